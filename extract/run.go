package extract

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"datx/state"
)

// CLI adapters. They translate host-provided paths and flags into the typed
// pipeline operations and own no decoding logic.

func pipelineFromEnv(env *state.LocalEnv, annotate bool) *Pipeline {
	return &Pipeline{
		Tables:     env.Tables,
		Log:        env.Log,
		Annotate:   annotate,
		RenderJobs: env.Cfg.Extract.RenderJobs,
	}
}

func sourceAndDest(cmd *cli.Command, log *zap.Logger) (src, dst string, err error) {
	src = cmd.Args().Get(0)
	if len(src) == 0 {
		return "", "", errors.New("no input source has been specified")
	}
	if src, err = filepath.Abs(src); err != nil {
		return "", "", err
	}

	dst = cmd.Args().Get(1)
	if len(dst) == 0 {
		// drop the archive extension and extract next to the source
		dst = strings.TrimSuffix(src, filepath.Ext(src))
	}
	if dst, err = filepath.Abs(dst); err != nil {
		return "", "", err
	}
	if cmd.Args().Len() > 2 {
		log.Warn("Malformed command line, too many destinations", zap.Strings("ignoring", cmd.Args().Slice()[2:]))
	}
	return src, dst, nil
}

// RunDAT implements the "dat" command: extract a container archive,
// optionally recursing into PAK members.
func RunDAT(ctx context.Context, cmd *cli.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	env := state.EnvFromContext(ctx)
	log := env.Log.Named("dat")

	src, dst, err := sourceAndDest(cmd, log)
	if err != nil {
		return err
	}

	p := pipelineFromEnv(env, !cmd.Bool("plain") && env.Cfg.Extract.Annotate)

	log.Info("Extraction starting", zap.String("source", src), zap.String("destination", dst), zap.Bool("pak", cmd.Bool("pak")))
	defer func(start time.Time) {
		log.Info("Extraction completed", zap.Duration("elapsed", time.Since(start)))
	}(time.Now())

	files, err := p.DAT(ctx, src, dst, cmd.Bool("pak"))
	if err != nil {
		return err
	}
	log.Info("Container archive extracted", zap.Int("members", len(files)))
	return nil
}

// RunPAK implements the "pak" command: extract a sub-archive, optionally
// rendering every member tree to XML.
func RunPAK(ctx context.Context, cmd *cli.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	env := state.EnvFromContext(ctx)
	log := env.Log.Named("pak")

	src, dst, err := sourceAndDest(cmd, log)
	if err != nil {
		return err
	}

	p := pipelineFromEnv(env, !cmd.Bool("plain") && env.Cfg.Extract.Annotate)

	log.Info("Extraction starting", zap.String("source", src), zap.String("destination", dst), zap.Bool("xml", cmd.Bool("xml")))
	defer func(start time.Time) {
		log.Info("Extraction completed", zap.Duration("elapsed", time.Since(start)))
	}(time.Now())

	members, err := p.PAK(ctx, src, dst, cmd.Bool("xml"))
	if err != nil {
		return err
	}
	log.Info("Sub-archive extracted", zap.Int("members", len(members)))
	return nil
}

// RunYAX implements the "yax" command: render one tree file to one XML file.
func RunYAX(ctx context.Context, cmd *cli.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	env := state.EnvFromContext(ctx)
	log := env.Log.Named("yax")

	src := cmd.Args().Get(0)
	if len(src) == 0 {
		return errors.New("no input source has been specified")
	}
	src, err := filepath.Abs(src)
	if err != nil {
		return err
	}

	dst := cmd.Args().Get(1)
	if len(dst) == 0 {
		dst = strings.TrimSuffix(src, filepath.Ext(src)) + ".xml"
	}
	if dst, err = filepath.Abs(dst); err != nil {
		return err
	}
	if src == dst {
		return fmt.Errorf("destination %q would overwrite the source", dst)
	}

	p := pipelineFromEnv(env, !cmd.Bool("plain") && env.Cfg.Extract.Annotate)

	if err := p.YAX(src, dst); err != nil {
		return err
	}
	log.Info("Tree rendered", zap.String("source", src), zap.String("destination", dst))
	return nil
}
