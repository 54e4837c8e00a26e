// Package validation extracts the train resource from train metadata and
// decides which protocol executor handles it.
package validation

import (
	"log"
	"sort"
	"strings"

	"github.com/knakk/rdf"

	"fairdatastation/internal/apperr"
	"fairdatastation/internal/config"
	"fairdatastation/internal/metadata"
)

// TrainType names a protocol a station can execute.
type TrainType string

const (
	SPARQLTrain TrainType = "SPARQL_TRAIN"
	FHIRTrain   TrainType = "FHIR_TRAIN"
)

// knownTrainClasses maps every per-protocol train class to its type.
var knownTrainClasses = []struct {
	class rdf.IRI
	typ   TrainType
	label string
}{
	{metadata.FDTSPARQLTrain, SPARQLTrain, "SPARQL Train"},
	{metadata.FDTFHIRTrain, FHIRTrain, "FHIR Train"},
}

// Registry is the set of train types this station instance can serve.
// It is built once at startup from configuration.
type Registry struct {
	ready map[TrainType]bool
}

// NewRegistry enables the given train types.
func NewRegistry(types ...TrainType) Registry {
	r := Registry{ready: make(map[TrainType]bool)}
	for _, t := range types {
		r.ready[t] = true
	}
	return r
}

// RegistryFromConfig enables each train type whose backing system is configured.
func RegistryFromConfig(cfg config.Config) Registry {
	var types []TrainType
	if cfg.TripleStoreReady() {
		types = append(types, SPARQLTrain)
	}
	if cfg.FHIRReady() {
		types = append(types, FHIRTrain)
	}
	r := NewRegistry(types...)
	for _, k := range knownTrainClasses {
		if r.Supports(k.typ) {
			log.Printf("Supported train: %s", k.label)
		}
	}
	return r
}

func (r Registry) Supports(t TrainType) bool {
	return r.ready[t]
}

// Supported lists enabled train types in a stable order.
func (r Registry) Supported() []TrainType {
	var out []TrainType
	for _, k := range knownTrainClasses {
		if r.ready[k.typ] {
			out = append(out, k.typ)
		}
	}
	return out
}

// Validator finds the single train resource of a metadata graph.
type Validator struct {
	registry Registry
}

func NewValidator(registry Registry) *Validator {
	return &Validator{registry: registry}
}

var typePredicates = []rdf.IRI{metadata.RDFType, metadata.DCTType}

// Validate returns the only subject typed as a train.
func (v *Validator) Validate(g *metadata.Graph) (rdf.Subject, error) {
	classes := []rdf.IRI{metadata.FDTTrain}
	for _, k := range knownTrainClasses {
		classes = append(classes, k.class)
	}

	seen := make(map[string]bool)
	var found []rdf.Subject
	for _, pred := range typePredicates {
		for _, class := range classes {
			for _, s := range g.Subjects(pred, class) {
				key := s.Serialize(rdf.NTriples)
				if !seen[key] {
					seen[key] = true
					found = append(found, s)
				}
			}
		}
	}

	switch len(found) {
	case 0:
		return nil, apperr.Validation(nil, "No train specification found in metadata")
	case 1:
		return found[0], nil
	default:
		names := make([]string, 0, len(found))
		for _, s := range found {
			names = append(names, s.String())
		}
		sort.Strings(names)
		return nil, apperr.Validation(nil, "More than one train found in metadata: [%s]", strings.Join(names, ", "))
	}
}

// DetermineType intersects the declared types of train with the enabled train types.
func (v *Validator) DetermineType(g *metadata.Graph, train rdf.Subject) (TrainType, error) {
	present := make(map[TrainType]bool)
	for _, pred := range typePredicates {
		for _, obj := range g.Objects(train, pred) {
			iri, ok := obj.(rdf.IRI)
			if !ok {
				continue
			}
			for _, k := range knownTrainClasses {
				if rdf.TermsEqual(iri, k.class) && v.registry.Supports(k.typ) {
					present[k.typ] = true
				}
			}
		}
	}

	switch len(present) {
	case 0:
		return "", apperr.Validation(nil, "No supported train type found in metadata")
	case 1:
		for t := range present {
			return t, nil
		}
	}
	types := make([]string, 0, len(present))
	for t := range present {
		types = append(types, string(t))
	}
	sort.Strings(types)
	return "", apperr.Validation(nil, "Multiple supported train types found in metadata: [%s]", strings.Join(types, ", "))
}
