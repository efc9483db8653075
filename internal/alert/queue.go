// Package alert holds the queue alert domain: measurements, the threshold
// policy, tracking issues and the pure functions that decide what the
// tracking issue should say.
package alert

const secondsPerHour = 3600

type (
	Measurement struct {
		MachineType     string  `json:"machine_type"`
		Count           int     `json:"count"`
		AvgQueueSeconds float64 `json:"avg_queue_s"`
	}
	QueueInfo struct {
		Machine string
		Count   int
		Hours   float64
	}
	Threshold struct {
		MaxHours float64 `mapstructure:"max_hours"`
		MaxCount int     `mapstructure:"max_count"`
	}
	// Policy maps machine types to thresholds. Machine types without an
	// exception use Default.
	Policy struct {
		Default    Threshold
		Exceptions map[string]Threshold
	}
)

func (m Measurement) Hours() float64 {
	return m.AvgQueueSeconds / secondsPerHour
}

func DefaultPolicy() Policy {
	return Policy{
		Default: Threshold{MaxHours: 3, MaxCount: 50},
		Exceptions: map[string]Threshold{
			"linux.gcp.a100.large": {MaxHours: 0, MaxCount: 20},
		},
	}
}

func (p Policy) For(machineType string) Threshold {
	if t, ok := p.Exceptions[machineType]; ok {
		return t
	}

	return p.Default
}

// FilterLongQueues returns the measurements that exceed their threshold on
// either dimension.
func FilterLongQueues(measurements []Measurement, policy Policy) []QueueInfo {
	var long []QueueInfo
	for _, m := range measurements {
		limit := policy.For(m.MachineType)
		hours := m.Hours()
		if hours > limit.MaxHours || m.Count > limit.MaxCount {
			long = append(long, QueueInfo{
				Machine: m.MachineType,
				Count:   m.Count,
				Hours:   hours,
			})
		}
	}

	return long
}
