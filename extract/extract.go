// Package extract sequences the decoding pipeline: container archive to
// member files, PAK sub-archives to raw tree payloads, tree payloads to XML.
// It also hosts the thin CLI adapters - all decoding logic lives in the
// format packages.
package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"datx/dat"
	"datx/pak"
	"datx/symbols"
	"datx/yax"
)

// PakExtractSubdir is where sub-archive members extracted during container
// recursion end up, one directory per PAK member.
const PakExtractSubdir = "pakExtracted"

// Pipeline carries the process-wide pieces every stage needs. The symbol
// tables are immutable, so one Pipeline may serve concurrent operations.
type Pipeline struct {
	Tables *symbols.Tables
	Log    *zap.Logger

	// Annotate controls the str/eng/id attributes in rendered XML.
	Annotate bool
	// RenderJobs caps concurrent tree renders, 0 means one goroutine per
	// member.
	RenderJobs int
}

// DAT extracts the container archive at datPath into dir. With recursePAK
// set, every extracted member named *.pak is in turn sub-archive-extracted
// (with tree rendering) into dir/pakExtracted/<member>/. Returns the paths of
// the container members in manifest order.
func (p *Pipeline) DAT(ctx context.Context, datPath, dir string, recursePAK bool) ([]string, error) {
	data, err := os.ReadFile(datPath)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}

	manifest, paths, err := dat.Extract(data, datPath, dir, p.Log.Named("dat"))
	if err != nil {
		return nil, err
	}

	if recursePAK {
		for _, name := range manifest.Files {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			// member names are case-sensitive, "SCENE.PAK" is not a sub-archive
			if !strings.HasSuffix(name, pak.Ext) {
				continue
			}
			if _, err := p.PAK(ctx, filepath.Join(dir, name), filepath.Join(dir, PakExtractSubdir, name), true); err != nil {
				return nil, err
			}
		}
	}
	return paths, nil
}

// PAK extracts the sub-archive at pakPath into dir. With renderTrees set,
// every extracted member is rendered to XML next to itself, one goroutine
// per member (subject to RenderJobs): members are independent buffers with
// independent outputs, only the read-only symbol tables are shared. A member
// whose render fails does not disturb sibling outputs; the failures are
// aggregated into the returned error.
func (p *Pipeline) PAK(ctx context.Context, pakPath, dir string, renderTrees bool) ([]string, error) {
	data, err := os.ReadFile(pakPath)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}

	members, err := pak.Extract(data, pakPath, dir, p.Log.Named("pak"))
	if err != nil {
		return nil, err
	}

	if renderTrees {
		if err := p.renderAll(ctx, members); err != nil {
			return nil, err
		}
	}
	return members, nil
}

// YAX renders the single tree file at src to XML at dst.
func (p *Pipeline) YAX(src, dst string) error {
	return yax.NewDecoder(p.Tables).ConvertFile(src, dst, p.Annotate)
}

func (p *Pipeline) renderAll(ctx context.Context, members []string) error {
	dec := yax.NewDecoder(p.Tables)
	log := p.Log.Named("yax")

	var sem chan struct{}
	if p.RenderJobs > 0 {
		sem = make(chan struct{}, p.RenderJobs)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs error
	)
	for _, member := range members {
		if err := ctx.Err(); err != nil {
			break
		}
		if sem != nil {
			sem <- struct{}{}
		}
		wg.Add(1)
		go func(src string) {
			defer wg.Done()
			if sem != nil {
				defer func() { <-sem }()
			}
			dst := strings.TrimSuffix(src, filepath.Ext(src)) + ".xml"
			if err := dec.ConvertFile(src, dst, p.Annotate); err != nil {
				log.Error("Tree render failed", zap.String("member", src), zap.Error(err))
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
				return
			}
			log.Debug("Rendered tree", zap.String("member", src), zap.String("xml", dst))
		}(member)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return multierr.Append(errs, err)
	}
	if errs != nil {
		return fmt.Errorf("extract: tree rendering: %w", errs)
	}
	return nil
}
