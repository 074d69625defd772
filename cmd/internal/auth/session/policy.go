package session

import "time"

// SuspicionInput is what a SuspicionPolicy sees for one rotation.
type SuspicionInput struct {
	// Presented is the locked row of the credential being rotated.
	Presented Record
	// Device is the caller's device context for this rotation.
	Device DeviceContext
	// Recent holds the user's rows issued within the policy window that are
	// still active, newest first. Presented is already revoked by the
	// rotation and never appears here.
	Recent []Record
}

// Verdict is the outcome of a SuspicionPolicy evaluation.
type Verdict struct {
	Suspicious bool
	Reason     string
}

// SuspicionPolicy decides whether a rotation looks like credential theft.
type SuspicionPolicy interface {
	// Window returns how far back and how many rows the engine loads into
	// SuspicionInput.Recent. A zero limit skips loading.
	Window() (lookback time.Duration, limit int)
	Evaluate(in SuspicionInput) Verdict
}

// AllowAll never flags a rotation.
type AllowAll struct{}

func (AllowAll) Window() (time.Duration, int)  { return 0, 0 }
func (AllowAll) Evaluate(SuspicionInput) Verdict { return Verdict{} }

// DistinctContextPolicy flags a rotation when the user's recent rows span
// too many distinct devices or networks and the caller is not one of them.
type DistinctContextPolicy struct {
	MinSamples         int
	MaxDistinctDevices int
	MaxDistinctIPs     int
	SampleLimit        int
	Lookback           time.Duration

	// StrictLineage additionally flags a caller whose fingerprint never
	// appeared in the presented credential's own lineage.
	StrictLineage bool
}

// DefaultDistinctContextPolicy returns the production thresholds.
func DefaultDistinctContextPolicy() DistinctContextPolicy {
	return DistinctContextPolicy{
		MinSamples:         5,
		MaxDistinctDevices: 4,
		MaxDistinctIPs:     4,
		SampleLimit:        10,
		Lookback:           24 * time.Hour,
	}
}

func (p DistinctContextPolicy) Window() (time.Duration, int) {
	return p.Lookback, p.SampleLimit
}

func (p DistinctContextPolicy) Evaluate(in SuspicionInput) Verdict {
	fp := in.Device.Fingerprint
	ip := ""
	if in.Device.IP != nil {
		ip = in.Device.IP.String()
	}

	if p.StrictLineage && fp != "" {
		var seen, known bool
		if in.Presented.DeviceFingerprint != nil {
			known = true
			seen = *in.Presented.DeviceFingerprint == fp
		}
		for _, r := range in.Recent {
			if seen {
				break
			}
			if r.LineageID != in.Presented.LineageID || r.DeviceFingerprint == nil {
				continue
			}
			known = true
			if *r.DeviceFingerprint == fp {
				seen = true
				break
			}
		}
		if known && !seen {
			return Verdict{Suspicious: true, Reason: "device_changed_within_lineage"}
		}
	}

	if len(in.Recent) < p.MinSamples {
		return Verdict{}
	}

	devices := make(map[string]struct{}, len(in.Recent))
	ips := make(map[string]struct{}, len(in.Recent))
	for _, r := range in.Recent {
		if v := strPtrValue(r.DeviceFingerprint); v != "" {
			devices[v] = struct{}{}
		}
		if v := strPtrValue(r.IPAddress); v != "" {
			ips[v] = struct{}{}
		}
	}

	crowded := (p.MaxDistinctDevices > 0 && len(devices) >= p.MaxDistinctDevices) ||
		(p.MaxDistinctIPs > 0 && len(ips) >= p.MaxDistinctIPs)
	if !crowded {
		return Verdict{}
	}

	// The presented row's own context is never foreign to its holder.
	_, fpSeen := devices[fp]
	_, ipSeen := ips[ip]
	fpSeen = fpSeen || fp == strPtrValue(in.Presented.DeviceFingerprint)
	ipSeen = ipSeen || ip == strPtrValue(in.Presented.IPAddress)
	if (fp != "" && !fpSeen) || (ip != "" && !ipSeen) {
		return Verdict{Suspicious: true, Reason: "unrecognized_context"}
	}
	return Verdict{}
}
