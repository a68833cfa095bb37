/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package blobstore

import (
	"io"
	"os"

	"github.com/yatool/localcache/internal/errs"
)

// stageFile places the file at src onto dst using the strongest operation
// permitted by ceiling (Rename > Hardlink > Copy), falling back to the
// next weaker one on failure. Returns which operation actually succeeded.
func stageFile(src, dst string, ceiling Optim) (Optim, error) {
	if ceiling >= Rename {
		if err := os.Rename(src, dst); err == nil {
			return Rename, nil
		}
	}
	if ceiling >= Hardlink {
		if err := os.Link(src, dst); err == nil {
			return Hardlink, nil
		}
	}
	if err := copyFile(src, dst); err != nil {
		return Copy, errs.Wrap(errs.KindIOErr, err, "copy blob payload")
	}
	return Copy, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	fi, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fi.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
