package models

// GraphLinksModelClass is the class tag written into exported documents.
const GraphLinksModelClass = "GraphLinksModel"

// GraphLinksModel is the JSON document form of a Dataset as exchanged with the
// browser widget. Links are identified by their "key" property.
type GraphLinksModel struct {
	Class           string        `json:"class"`
	LinkKeyProperty string        `json:"linkKeyProperty"`
	NodeDataArray   []NodeRecord  `json:"nodeDataArray"`
	LinkDataArray   []LinkRecord  `json:"linkDataArray"`
	ModelData       GraphMetadata `json:"modelData,omitempty"`
}

// NewGraphLinksModel wraps a copy of ds for export.
func NewGraphLinksModel(ds Dataset) GraphLinksModel {
	ds = ds.Clone()
	if ds.Nodes == nil {
		ds.Nodes = []NodeRecord{}
	}
	if ds.Links == nil {
		ds.Links = []LinkRecord{}
	}
	return GraphLinksModel{
		Class:           GraphLinksModelClass,
		LinkKeyProperty: "key",
		NodeDataArray:   ds.Nodes,
		LinkDataArray:   ds.Links,
		ModelData:       ds.ModelData,
	}
}

// Dataset unwraps the document.
func (g GraphLinksModel) Dataset() Dataset {
	return Dataset{
		Nodes:     CloneNodes(g.NodeDataArray),
		Links:     CloneLinks(g.LinkDataArray),
		ModelData: g.ModelData.Clone(),
	}
}
