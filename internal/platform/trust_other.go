//go:build !darwin && !linux && !windows

package platform

import "github.com/laplaque/mitmcore/internal/ca"

func defaultStore() ca.TrustStore { return ca.Unsupported{} }
