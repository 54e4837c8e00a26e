package metadata

import "github.com/knakk/rdf"

const (
	NamespaceRDF  = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
	NamespaceDCT  = "http://purl.org/dc/terms/"
	NamespaceDCAT = "http://www.w3.org/ns/dcat#"
	NamespaceFOAF = "http://xmlns.com/foaf/0.1/"
	NamespaceXSD  = "http://www.w3.org/2001/XMLSchema#"
	NamespaceLDP  = "http://www.w3.org/ns/ldp#"
	NamespaceFDT  = "https://w3id.org/fdt/fdt-o#"
)

var (
	RDFType = mustIRI(NamespaceRDF + "type")
	DCTType = mustIRI(NamespaceDCT + "type")

	FDTTrain              = mustIRI(NamespaceFDT + "Train")
	FDTSPARQLTrain        = mustIRI(NamespaceFDT + "SPARQLTrain")
	FDTFHIRTrain          = mustIRI(NamespaceFDT + "FHIRTrain")
	FDTHasPayload         = mustIRI(NamespaceFDT + "hasPayload")
	FDTPayloadDownloadURL = mustIRI(NamespaceFDT + "payloadDownloadURL")
)

// prefixes written on every Turtle serialization, keyed by namespace IRI.
var prefixes = map[string]string{
	NamespaceDCT:  "dct",
	NamespaceDCAT: "dcat",
	NamespaceFOAF: "foaf",
	NamespaceXSD:  "xsd",
	NamespaceLDP:  "ldp",
	NamespaceFDT:  "fdt",
}

func mustIRI(s string) rdf.IRI {
	iri, err := rdf.NewIRI(s)
	if err != nil {
		panic(err)
	}
	return iri
}
