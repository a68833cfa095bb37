/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package action

import "github.com/yatool/localcache/internal/errs"

func isNotFound(err error) bool { return errs.Is(err, errs.KindNotFound) }
