// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package hwtimer

import (
	"errors"
)

var ErrRejected = errors.New("rejected: pending timeout limit reached")
var ErrInvalidState = errors.New("invalid state for operation")
var ErrInvalidConfiguration = errors.New("invalid configuration")
var ErrNilTask = errors.New("task must not be nil")
