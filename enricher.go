// enricher.go: Append-time linking metadata enrichment
//
// Copyright (c) 2025 AGILira
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package newrelicwriter

import (
	"fmt"
)

// MetadataProvider supplies linking metadata (trace.id, span.id, entity
// identifiers) for the event currently being appended.
type MetadataProvider interface {
	GetLinkingMetadata() (LinkingMetadata, error)
}

// MetadataProviderFunc adapts a function to MetadataProvider.
type MetadataProviderFunc func() (LinkingMetadata, error)

func (f MetadataProviderFunc) GetLinkingMetadata() (LinkingMetadata, error) { return f() }

// Enricher attaches linking metadata to events as they are accepted.
type Enricher struct {
	Provider MetadataProvider
	Sink     DiagnosticSink
}

// Enrich returns ev with linking metadata stored under LinkingMetadataKey.
// When the provider fails or returns nothing, ev is returned unchanged.
func (en *Enricher) Enrich(ev *Event) *Event {
	if ev == nil || en.Provider == nil {
		return ev
	}

	md, err := en.fetch()
	if err != nil {
		guardSink(en.Sink).Report("failed to append newrelic linking metadata", err)
		return ev
	}
	if len(md) == 0 {
		return ev
	}

	out := ev.clone()
	out.SetProperty(LinkingMetadataKey, md)
	return out
}

func (en *Enricher) fetch() (md LinkingMetadata, err error) {
	defer func() {
		if r := recover(); r != nil {
			md = nil
			err = fmt.Errorf("%w: provider panic: %v", ErrMetadataUnavailable, r)
		}
	}()

	md, err = en.Provider.GetLinkingMetadata()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMetadataUnavailable, err)
	}
	return md, nil
}
