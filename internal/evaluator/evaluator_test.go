package evaluator

import (
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/nexusiot/fleetcore/internal/domain"
)

func TestEvaluator(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Evaluator Suite")
}

var baseTime = time.Date(2026, 2, 17, 12, 0, 0, 0, time.UTC)

var _ = Describe("fingerprint", func() {
	It("is stable and distinguishes rule vs heartbeat alerts", func() {
		Expect(ResolveFingerprint("r1", "d1")).To(Equal("RULE:r1:d1"))
		Expect(NoHeartbeatFingerprint("d1")).To(Equal("NO_HEARTBEAT:d1"))
		Expect(ResolveFingerprint("r1", "d1")).To(Equal(ResolveFingerprint("r1", "d1")))
	})
})

var _ = Describe("ComputeStatus", func() {
	t := Thresholds{Stale: 2 * time.Minute, Offline: 5 * time.Minute}

	It("is ONLINE within the stale window", func() {
		Expect(ComputeStatus(time.Minute, t)).To(Equal("ONLINE"))
	})
	It("is STALE beyond the stale window but within offline", func() {
		Expect(ComputeStatus(3*time.Minute, t)).To(Equal("STALE"))
	})
	It("is OFFLINE beyond the offline window", func() {
		Expect(ComputeStatus(6*time.Minute, t)).To(Equal("OFFLINE"))
	})
})

var _ = Describe("EvaluateHeartbeat transitions", func() {
	t := Thresholds{Stale: 2 * time.Minute, Offline: 5 * time.Minute}

	It("flags WentOffline when status crosses into OFFLINE", func() {
		hb := DeviceHeartbeat{Tenant: "acme", DeviceID: "d1", Status: "ONLINE", LastSeenAt: baseTime.Add(-6 * time.Minute)}
		tr := EvaluateHeartbeat(hb, t, baseTime)
		Expect(tr.To).To(Equal("OFFLINE"))
		Expect(tr.WentOffline).To(BeTrue())
		Expect(tr.Recovered).To(BeFalse())
	})

	It("flags Recovered when status returns to ONLINE from OFFLINE", func() {
		hb := DeviceHeartbeat{Tenant: "acme", DeviceID: "d1", Status: "OFFLINE", LastSeenAt: baseTime}
		tr := EvaluateHeartbeat(hb, t, baseTime)
		Expect(tr.To).To(Equal("ONLINE"))
		Expect(tr.Recovered).To(BeTrue())
	})
})

var _ = Describe("threshold rule evaluation", func() {
	rule := func(duration int) domain.AlertRule {
		return domain.AlertRule{
			RuleID: "r1", Tenant: "acme", Mode: domain.RuleModeThreshold,
			Severity: "warning", Enabled: true, DurationSeconds: duration,
			Threshold: domain.ThresholdCondition{MetricName: "temperature", Operator: domain.OpGT, Threshold: 40},
		}
	}

	It("fires on the latest reading alone when duration is 0", func() {
		readings := ReadingSet{"temperature": {{Time: baseTime, Value: 45, Present: true}}}
		Expect(EvaluateRule(rule(0), readings, baseTime)).To(BeTrue())
	})

	It("does not fire on the latest reading alone when it fails the comparison", func() {
		readings := ReadingSet{"temperature": {{Time: baseTime, Value: 30, Present: true}}}
		Expect(EvaluateRule(rule(0), readings, baseTime)).To(BeFalse())
	})

	It("requires the condition to hold for the entire window when duration > 0", func() {
		r := rule(60)
		readings := []Reading{
			{Time: baseTime.Add(-55 * time.Second), Value: 45, Present: true},
			{Time: baseTime.Add(-30 * time.Second), Value: 46, Present: true},
			{Time: baseTime, Value: 47, Present: true},
		}
		Expect(EvaluateRule(r, ReadingSet{"temperature": readings}, baseTime)).To(BeTrue())
	})

	It("does not fire when any in-window reading fails the comparison", func() {
		r := rule(60)
		readings := []Reading{
			{Time: baseTime.Add(-55 * time.Second), Value: 45, Present: true},
			{Time: baseTime.Add(-30 * time.Second), Value: 10, Present: true},
			{Time: baseTime, Value: 47, Present: true},
		}
		Expect(EvaluateRule(r, ReadingSet{"temperature": readings}, baseTime)).To(BeFalse())
	})

	It("does not fire when no reading is present in the window", func() {
		r := rule(60)
		readings := []Reading{
			{Time: baseTime.Add(-5 * time.Hour), Value: 45, Present: true},
		}
		Expect(EvaluateRule(r, ReadingSet{"temperature": readings}, baseTime)).To(BeFalse())
	})

	It("satisfies the earliest-in-window invariant from spec.md §8", func() {
		r := rule(60)
		readings := []Reading{
			{Time: baseTime.Add(-55 * time.Second), Value: 45, Present: true},
			{Time: baseTime, Value: 47, Present: true},
		}
		earliest, ok := EarliestInWindow(readings, r.DurationSeconds, baseTime)
		Expect(ok).To(BeTrue())
		Expect(baseTime.Sub(earliest)).To(BeNumerically(">=", 55*time.Second))
	})
})

var _ = Describe("multi-condition rule evaluation", func() {
	makeRule := func(match domain.MatchKind) domain.AlertRule {
		return domain.AlertRule{
			RuleID: "r2", Tenant: "acme", Mode: domain.RuleModeMulti, Match: match,
			Conditions: []domain.ThresholdCondition{
				{MetricName: "temperature", Operator: domain.OpGT, Threshold: 40},
				{MetricName: "humidity", Operator: domain.OpLT, Threshold: 20},
			},
		}
	}

	It("requires every condition with ALL", func() {
		readings := ReadingSet{
			"temperature": {{Time: baseTime, Value: 45, Present: true}},
			"humidity":    {{Time: baseTime, Value: 15, Present: true}},
		}
		Expect(EvaluateRule(makeRule(domain.MatchAll), readings, baseTime)).To(BeTrue())

		readings["humidity"] = []Reading{{Time: baseTime, Value: 50, Present: true}}
		Expect(EvaluateRule(makeRule(domain.MatchAll), readings, baseTime)).To(BeFalse())
	})

	It("requires only one condition with ANY", func() {
		readings := ReadingSet{
			"temperature": {{Time: baseTime, Value: 45, Present: true}},
			"humidity":    {{Time: baseTime, Value: 50, Present: true}},
		}
		Expect(EvaluateRule(makeRule(domain.MatchAny), readings, baseTime)).To(BeTrue())
	})
})

var _ = Describe("anomaly rule evaluation", func() {
	baseline := func() []Reading {
		var out []Reading
		for i := 0; i < 10; i++ {
			out = append(out, Reading{Time: baseTime.Add(-time.Duration(10-i) * time.Minute), Value: 20, Present: true})
		}
		return out
	}

	It("never fires fewer times at higher sensitivity for the same input (monotonicity)", func() {
		readings := append(baseline(), Reading{Time: baseTime, Value: 35, Present: true})
		low := domain.AlertRule{Mode: domain.RuleModeAnomaly, MetricName: "vibration", Sensitivity: 0.1}
		high := domain.AlertRule{Mode: domain.RuleModeAnomaly, MetricName: "vibration", Sensitivity: 0.9}

		lowFires := EvaluateRule(low, ReadingSet{"vibration": readings}, baseTime)
		highFires := EvaluateRule(high, ReadingSet{"vibration": readings}, baseTime)

		if lowFires {
			Expect(highFires).To(BeTrue())
		}
	})

	It("does not fire with insufficient history", func() {
		readings := []Reading{{Time: baseTime, Value: 35, Present: true}}
		rule := domain.AlertRule{Mode: domain.RuleModeAnomaly, MetricName: "vibration", Sensitivity: 0.5}
		Expect(EvaluateRule(rule, ReadingSet{"vibration": readings}, baseTime)).To(BeFalse())
	})
})

var _ = Describe("DecideRuleAlert", func() {
	rule := domain.AlertRule{RuleID: "r1", Tenant: "acme", Severity: "warning", Mode: domain.RuleModeThreshold}

	It("opens a new alert when the rule fires and none is open", func() {
		effect := DecideRuleAlert(rule, "d1", true, nil, baseTime)
		Expect(effect.Open).ToNot(BeNil())
		Expect(effect.Open.Fingerprint).To(Equal("RULE:r1:d1"))
		Expect(effect.Open.Status).To(Equal(domain.AlertOpen))
	})

	It("does nothing when the rule keeps firing at the same severity", func() {
		existing := &domain.Alert{Status: domain.AlertOpen, Severity: "warning", Fingerprint: "RULE:r1:d1"}
		effect := DecideRuleAlert(rule, "d1", true, existing, baseTime)
		Expect(effect.Open).To(BeNil())
		Expect(effect.Update).To(BeNil())
		Expect(effect.Close).To(BeNil())
	})

	It("bumps severity when it rises while still firing", func() {
		critical := rule
		critical.Severity = "critical"
		existing := &domain.Alert{Status: domain.AlertOpen, Severity: "warning", Fingerprint: "RULE:r1:d1"}
		effect := DecideRuleAlert(critical, "d1", true, existing, baseTime)
		Expect(effect.Update).ToNot(BeNil())
		Expect(effect.Update.Severity).To(Equal("critical"))
	})

	It("closes the open alert with the same fingerprint when the rule stops firing", func() {
		existing := &domain.Alert{Status: domain.AlertOpen, Severity: "warning", Fingerprint: "RULE:r1:d1"}
		effect := DecideRuleAlert(rule, "d1", false, existing, baseTime)
		Expect(effect.Close).ToNot(BeNil())
		Expect(effect.Close.Fingerprint).To(Equal(existing.Fingerprint))
	})

	It("does nothing when the rule doesn't fire and nothing is open", func() {
		effect := DecideRuleAlert(rule, "d1", false, nil, baseTime)
		Expect(effect.Open).To(BeNil())
		Expect(effect.Close).To(BeNil())
	})
})

var _ = Describe("DecideHeartbeatAlert", func() {
	It("opens a NO_HEARTBEAT alert on transition to offline", func() {
		tr := StatusTransition{Tenant: "acme", DeviceID: "d1", From: "ONLINE", To: "OFFLINE", WentOffline: true}
		effect := DecideHeartbeatAlert(tr, nil, baseTime)
		Expect(effect.Open).ToNot(BeNil())
		Expect(effect.Open.Fingerprint).To(Equal("NO_HEARTBEAT:d1"))
	})

	It("closes the NO_HEARTBEAT alert on recovery, using the same fingerprint used to open it", func() {
		tr := StatusTransition{Tenant: "acme", DeviceID: "d1", From: "OFFLINE", To: "ONLINE", Recovered: true}
		existing := &domain.Alert{Status: domain.AlertOpen, Fingerprint: NoHeartbeatFingerprint("d1")}
		effect := DecideHeartbeatAlert(tr, existing, baseTime)
		Expect(effect.Close).ToNot(BeNil())
		Expect(effect.Close.Fingerprint).To(Equal(existing.Fingerprint))
	})
})
