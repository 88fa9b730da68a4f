// GoTale - Hytale Server Management Console
// Copyright 2026 006mi4
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/006mi4/gotale

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Validate normalizes and checks the configuration. It is the single
// place defaults for derived fields are filled in; callers may rely on a
// validated Config being fully usable without further merging.
func (c *Config) Validate() error {
	c.normalize()

	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("field %s failed rule %q", fe.Namespace(), fe.Tag())
		}
		return err
	}

	return c.validateCrossField()
}

// normalize fills derived defaults that the struct layers cannot express.
func (c *Config) normalize() {
	if c.Server.Timeout <= 0 {
		c.Server.Timeout = 30 * time.Second
	}
	if c.Server.RateLimitWindow <= 0 {
		c.Server.RateLimitWindow = time.Minute
	}
	if !strings.HasPrefix(c.Bridge.Path, "/") {
		c.Bridge.Path = "/" + c.Bridge.Path
	}
	for i, mode := range c.Runtime.PersistenceModes {
		c.Runtime.PersistenceModes[i] = strings.ToLower(strings.TrimSpace(mode))
	}
}

func (c *Config) validateCrossField() error {
	if c.Runtime.MinRAMMB > 0 && c.Runtime.MaxRAMMB > 0 && c.Runtime.MinRAMMB > c.Runtime.MaxRAMMB {
		return fmt.Errorf("runtime.min_ram_mb (%d) exceeds runtime.max_ram_mb (%d)",
			c.Runtime.MinRAMMB, c.Runtime.MaxRAMMB)
	}
	if c.Bridge.Enabled && c.Bridge.AuthEnabled && c.Bridge.AuthToken == "" {
		return fmt.Errorf("bridge.auth_token is required when bridge.auth_enabled=true")
	}
	for _, mode := range c.Runtime.PersistenceModes {
		if mode == "" {
			return fmt.Errorf("runtime.persistence_modes must not contain empty entries")
		}
	}
	return nil
}
