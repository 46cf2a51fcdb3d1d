// Copyright 2024-2026 Aiku AI

package relay

import "errors"

var errEmptyThread = errors.New("thread has no posts")
