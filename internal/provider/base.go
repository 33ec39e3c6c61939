package provider

import (
	"github.com/oklog/ulid/v2"

	mentaterrors "github.com/mentat-sh/mentat/internal/errors"
)

// Base carries the fields every concrete client shares: an instance id,
// the error mapper, the estimator used when a provider omits usage, and
// the optional health reporter. Concrete clients embed Base and get
// Name/Type/InstanceID/Health-adjacent helpers for free.
type Base struct {
	instanceID string
	name       string
	typ        string
	mapper     mentaterrors.ProviderErrorMapper
	estimator  Estimator
	reporter   Reporter
}

// NewBase constructs a Base, minting a fresh ULID instance id.
func NewBase(name, typ string, estimator Estimator, reporter Reporter) Base {
	return Base{
		instanceID: ulid.Make().String(),
		name:       name,
		typ:        typ,
		mapper:     mentaterrors.NewDefaultProviderErrorMapper(),
		estimator:  estimator,
		reporter:   reporter,
	}
}

func (b Base) Name() string       { return b.name }
func (b Base) Type() string       { return b.typ }
func (b Base) InstanceID() string { return b.instanceID }

// ReportRecord emits a fully-built HealthRecord. No-op if no reporter was
// wired, so clients are usable standalone in tests.
func (b Base) ReportRecord(rec HealthRecord) {
	if b.reporter == nil {
		return
	}
	rec.InstanceID = b.instanceID
	rec.Provider = b.name
	b.reporter.ReportQuery(rec)
}

// MapErr classifies err into mentat's error taxonomy via the wired
// ProviderErrorMapper.
func (b Base) MapErr(err error) error {
	if err == nil {
		return nil
	}
	return b.mapper.MapError(b.name, err)
}

// ErrClass reports the short category name for err, for HealthRecord.ErrorClass.
func (b Base) ErrClass(err error) string {
	if err == nil {
		return ""
	}
	return b.mapper.Category(b.MapErr(err))
}

// EstimateUsage fills in token counts from the wired Estimator when the
// provider response didn't report real usage.
func (b Base) EstimateUsage(model, prompt, completion string) (promptTok, completionTok int) {
	if b.estimator == nil {
		return 0, 0
	}
	return b.estimator.Estimate(model, prompt), b.estimator.Estimate(model, completion)
}
