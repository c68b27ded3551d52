package sql

import (
	"time"

	"github.com/gyaneshwarpardhi/cep/internal/event"
	"github.com/gyaneshwarpardhi/cep/internal/rules"
)

type sinkStub struct{}

func (sinkStub) HandleRuleNoMatch(any, *event.Event, *rules.Rule)           {}
func (sinkStub) EmitActionError(any, *event.Event, *rules.Rule, error)      {}
func (sinkStub) ReportConditionEfficiency(uint16, time.Duration)            {}
func (sinkStub) ReportRuleEfficiency(uint16, time.Duration)                 {}
func (sinkStub) ReportRuleHit(uint16)                                       {}
func (sinkStub) EmitTemplatedAlert(any, *event.Event, rules.TemplatedAlert) {}
