// Copyright 2025 NVIDIA CORPORATION
// SPDX-License-Identifier: Apache-2.0

package accounting

import "errors"

var errTransient = errors.New("accounting storage unreachable")
