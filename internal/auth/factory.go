// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package auth

import (
	"fmt"
	"time"
)

// Config describes how the controller input provider authenticates
// requests when the controller agent is a remote HTTP service rather
// than an in-process session.
type Config struct {
	Enabled         bool
	JWKSURL         string
	Issuer          string
	Audience        string
	RefreshInterval time.Duration
}

// SetDefaults fills unset fields with the package's defaults.
func (c *Config) SetDefaults() {
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 15 * time.Minute
	}
}

// Validate checks that a config enabled for use is well-formed.
func (c *Config) Validate() error {
	if c.JWKSURL == "" {
		return fmt.Errorf("auth: jwks_url is required")
	}
	if c.Issuer == "" {
		return fmt.Errorf("auth: issuer is required")
	}
	return nil
}

// NewValidatorFromConfig creates a TokenValidator from configuration.
// Returns nil if authentication is not enabled.
func NewValidatorFromConfig(cfg *Config) (TokenValidator, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid auth config: %w", err)
	}

	validator, err := NewJWTValidator(JWTValidatorConfig{
		JWKSURL:         cfg.JWKSURL,
		Issuer:          cfg.Issuer,
		Audience:        cfg.Audience,
		RefreshInterval: cfg.RefreshInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create JWT validator: %w", err)
	}

	return validator, nil
}
