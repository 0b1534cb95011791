// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags first and then the cross-field rules the tags
// cannot express. All failures wrap ErrInvalidConfig.
func Validate(cfg AppConfig) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	minBal, ok := new(big.Rat).SetString(strings.TrimSpace(cfg.Breaker.MinBalance))
	if !ok {
		return fmt.Errorf("%w: breaker.minBalance %q is not a decimal amount", ErrInvalidConfig, cfg.Breaker.MinBalance)
	}
	if minBal.Sign() < 0 {
		return fmt.Errorf("%w: breaker.minBalance must not be negative", ErrInvalidConfig)
	}

	if cfg.Stability.Required > cfg.Stability.MaxAttempts {
		return fmt.Errorf("%w: stability.required (%d) exceeds stability.maxAttempts (%d)",
			ErrInvalidConfig, cfg.Stability.Required, cfg.Stability.MaxAttempts)
	}

	if strings.ContainsAny(cfg.Capture.SegmentPrefix, `/\`) {
		return fmt.Errorf("%w: capture.segmentPrefix must not contain path separators", ErrInvalidConfig)
	}

	if (cfg.Pinning.APIKey == "") != (cfg.Pinning.APISecret == "") {
		return fmt.Errorf("%w: %s and %s must be set together", ErrInvalidConfig, EnvPinataAPIKey, EnvPinataAPISecret)
	}

	if key := strings.TrimPrefix(cfg.Ledger.PrivateKey, "0x"); key != "" && len(key) != 64 {
		return fmt.Errorf("%w: %s must be a 32-byte hex key", ErrInvalidConfig, EnvPrivateKey)
	}
	return nil
}
