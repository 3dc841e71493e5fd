// Copyright (C) 2025 Fathom Labs (oss@fathomlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import "errors"

// ErrInvalidConfig is returned when a configuration value is outside its
// accepted set.
var ErrInvalidConfig = errors.New("invalid configuration")
