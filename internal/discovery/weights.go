package discovery

// DefaultWeightTable returns the fixed rotation table spec §4.10 calls for:
// a default balanced weighting, and a security_critical rotation that
// favours source trust and capability match over raw popularity.
func DefaultWeightTable() WeightTable {
	return WeightTable{
		"": {
			CapabilityMatch: 0.4,
			Quality:         0.3,
			Recency:         0.15,
			Trust:           0.15,
		},
		"security_critical": {
			CapabilityMatch: 0.35,
			Quality:         0.1,
			Recency:         0.1,
			Trust:           0.45,
		},
	}
}
