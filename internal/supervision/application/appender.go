package application

import (
	"fmt"

	"plantwatch/internal/cache"
	supervision "plantwatch/internal/supervision/domain"
	tags "plantwatch/internal/tags/domain"
)

// Appender adds the supervision context of a tag to its quality.
type Appender struct {
	records *cache.Cache[string, supervision.Record]
}

// NewAppender constructs an appender.
func NewAppender(records *cache.Cache[string, supervision.Record]) *Appender {
	return &Appender{records: records}
}

// Apply returns a copy of tag invalidated for every owning entity that is not running.
// Unknown entities are ignored.
func (a *Appender) Apply(tag tags.Tag) tags.Tag {
	if a == nil || a.records == nil {
		return tag
	}
	for _, ref := range tag.SupervisionRefs() {
		record, err := a.records.Get(ref.Key())
		if err != nil || record.Running() {
			continue
		}
		reason := tags.SupervisionReason(ref.Kind)
		tag.Quality = tag.Quality.WithReason(reason, fmt.Sprintf("%s %s is %s", ref.Kind, ref.ID, record.Status))
	}
	return tag
}
