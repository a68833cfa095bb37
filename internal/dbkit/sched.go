/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package dbkit

import "runtime"

func runtimeGosched() { runtime.Gosched() }
