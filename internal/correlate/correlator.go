package correlate

import "github.com/alanyoungcy/execsync/internal/domain"

// Result is the output of one correlation pass.
type Result struct {
	Records   []domain.CorrelatedRecord
	Anomalies []domain.Anomaly
}

// Correlate joins executions and commission reports on their execution id.
//
// Records follow commission arrival order. Each execution is matched at most
// once: a repeated execution id keeps its first entry, a second commission for
// an already matched execution is reported, and a commission with no
// execution in the batch is reported as an orphan. Executions that never got a
// commission are dropped or reported according to policy. The output depends
// only on the two slices, never on how their deliveries interleaved.
func Correlate(executions []ExecutionEntry, commissions []*domain.CommissionReport, policy domain.UnmatchedPolicy) Result {
	var res Result

	byID := make(map[string]ExecutionEntry, len(executions))
	for _, e := range executions {
		id := e.Execution.ExecID
		if _, dup := byID[id]; dup {
			res.Anomalies = append(res.Anomalies, domain.Anomaly{
				Kind:      domain.AnomalyDuplicateExecution,
				ExecID:    id,
				Contract:  e.Contract,
				Execution: e.Execution,
			})
			continue
		}
		byID[id] = e
	}

	matched := make(map[string]bool, len(commissions))
	for _, cr := range commissions {
		entry, ok := byID[cr.ExecID]
		switch {
		case !ok:
			res.Anomalies = append(res.Anomalies, domain.Anomaly{
				Kind:       domain.AnomalyOrphanCommission,
				ExecID:     cr.ExecID,
				Commission: cr,
			})
		case matched[cr.ExecID]:
			res.Anomalies = append(res.Anomalies, domain.Anomaly{
				Kind:       domain.AnomalyDuplicateCommission,
				ExecID:     cr.ExecID,
				Contract:   entry.Contract,
				Execution:  entry.Execution,
				Commission: cr,
			})
		default:
			matched[cr.ExecID] = true
			res.Records = append(res.Records, domain.CorrelatedRecord{
				Contract:   entry.Contract,
				Execution:  entry.Execution,
				Commission: cr,
			})
		}
	}

	if policy == domain.UnmatchedReport {
		for _, e := range executions {
			id := e.Execution.ExecID
			if matched[id] || byID[id].Execution != e.Execution {
				continue
			}
			res.Anomalies = append(res.Anomalies, domain.Anomaly{
				Kind:      domain.AnomalyUnmatchedExecution,
				ExecID:    id,
				Contract:  e.Contract,
				Execution: e.Execution,
			})
		}
	}

	return res
}
