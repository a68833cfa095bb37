/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package blobstore

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/karrick/godirwalk"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/yatool/localcache/internal/errs"
)

// scanConcurrency bounds how many of the 256 buckets are walked at once —
// enough to saturate a local disk's queue depth without every bucket's
// godirwalk goroutine competing for the same spindle.
const scanConcurrency = 16

// Corruption describes one blob whose on-disk content digest no longer
// matches its filename.
type Corruption struct {
	Path    string
	WantUID string
	GotUID  string
	ScanErr error
}

// ScanIntegrity walks every `<root>/<h0>/<h1>` bucket concurrently, bounded
// by a semaphore, and re-hashes each file to confirm its content still
// matches the uid encoded in its filename. It returns every mismatch found;
// a clean store returns a nil slice. Run at startup, this is the daemon's
// equivalent of a filesystem consistency check before the cache is trusted.
func ScanIntegrity(ctx context.Context, root string) ([]Corruption, error) {
	sem := semaphore.NewWeighted(scanConcurrency)
	g, ctx := errgroup.WithContext(ctx)

	var (
		foundMu sync.Mutex
		found   []Corruption
	)

	for _, h0 := range fanoutAlphabet {
		for _, h1 := range fanoutAlphabet {
			bucket := filepath.Join(root, string(h0), string(h1))
			if err := sem.Acquire(ctx, 1); err != nil {
				return found, err
			}
			g.Go(func() error {
				defer sem.Release(1)
				bad, err := scanBucket(bucket)
				if err != nil {
					return err
				}
				if len(bad) > 0 {
					foundMu.Lock()
					found = append(found, bad...)
					foundMu.Unlock()
				}
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return found, err
	}
	return found, nil
}

func scanBucket(bucket string) ([]Corruption, error) {
	var bad []Corruption
	err := godirwalk.Walk(bucket, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}
			wantUID := filepath.Base(path)
			gotUID, _, derr := Digest(path)
			if derr != nil {
				bad = append(bad, Corruption{Path: path, WantUID: wantUID, ScanErr: derr})
				return nil
			}
			if gotUID != wantUID {
				bad = append(bad, Corruption{Path: path, WantUID: wantUID, GotUID: gotUID})
			}
			return nil
		},
		ErrorCallback: func(path string, err error) godirwalk.ErrorAction {
			if os.IsNotExist(err) {
				return godirwalk.SkipNode
			}
			bad = append(bad, Corruption{Path: path, ScanErr: errs.Wrap(errs.KindIOErr, err, "walk bucket")})
			return godirwalk.SkipNode
		},
	})
	return bad, err
}
