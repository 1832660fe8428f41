package serialize

import (
	"log/slog"

	"github.com/agentic-research/pbixproj/api"
	"github.com/agentic-research/pbixproj/internal/tree"
)

// Artifact names. They double as the Raw mode file names.
const (
	ArtifactVersion          = "Version"
	ArtifactConnections      = "Connections"
	ArtifactModel            = "Model"
	ArtifactReport           = "Report"
	ArtifactMashup           = "Mashup"
	ArtifactDiagramLayout    = "DiagramLayout"
	ArtifactDiagramViewState = "DiagramViewState"
	ArtifactLinguisticSchema = "LinguisticSchema"
	ArtifactReportMetadata   = "ReportMetadata"
	ArtifactReportSettings   = "ReportSettings"
	ArtifactCustomVisuals    = "CustomVisuals"
	ArtifactStaticResources  = "StaticResources"
)

// ModelVolatile are refresh and edit timestamps the engine rewrites on every
// save. They are stripped from model documents by default.
var ModelVolatile = []string{
	"modifiedTime",
	"structureModifiedTime",
	"refreshedTime",
	"lastProcessed",
	"lastUpdate",
	"lastSchemaUpdate",
}

func partitionExt(item *tree.Object) string {
	if t, ok := tree.Lookup(item, "source.type"); ok && t == tree.String("calculated") {
		return ".dax"
	}
	return ".m"
}

func daxItems(field string) Rule {
	return Items(field, Shape{Rules: []Rule{Text("expression", FormString, ".dax")}}, "name")
}

// ModelShape lays out a tabular model database:
//
//	Model/database.json
//	Model/dataSources/<name>.json
//	Model/tables/<table>/table.json
//	Model/tables/<table>/columns/<column>.json|.dax
//	Model/tables/<table>/measures/<measure>.json|.dax
//	Model/tables/<table>/hierarchies/<hierarchy>.json
//	Model/tables/<table>/partitions/<partition>.json|.m|.dax
//	Model/tables/<table>/calculationItems/<item>.json|.dax
//	Model/expressions/<expression>.json|.m
//	Model/roles/<role>/role.json
//	Model/roles/<role>/tablePermissions/<table>.json|.dax
//	Model/cultures/<culture>.json
//	Model/perspectives/<perspective>.json
//	Model/relationships.json
var ModelShape = Shape{
	Descriptor: "database.json",
	Rules: []Rule{
		Items("model.dataSources", Shape{}, "name"),
		Items("model.tables", Shape{
			Descriptor: "table.json",
			Rules: []Rule{
				daxItems("columns"),
				daxItems("measures"),
				Items("hierarchies", Shape{}, "name"),
				Items("partitions", Shape{Rules: []Rule{
					TextPick("source.expression", FormLines, partitionExt, ".m", ".dax"),
				}}, "name"),
				daxItems("calculationGroup.calculationItems"),
			},
		}, "name"),
		Items("model.expressions", Shape{Rules: []Rule{Text("expression", FormLines, ".m")}}, "name"),
		Items("model.roles", Shape{
			Descriptor: "role.json",
			Rules: []Rule{
				Items("tablePermissions", Shape{Rules: []Rule{Text("filterExpression", FormString, ".dax")}}, "name"),
			},
		}, "name"),
		Items("model.cultures", Shape{}, "name"),
		Items("model.perspectives", Shape{}, "name"),
		JSONFile("model.relationships"),
	},
}

// ReportShape lays out a report layout document. Pages and visuals keep
// their order through ordinal prefixes:
//
//	Report/report.json, config.json, filters.json, resourcePackages.json
//	Report/sections/000_<page>/section.json, config.json, filters.json
//	Report/sections/000_<page>/visualContainers/00000_<visual>/visualContainer.json
//	    config.json, filters.json, query.json, dataTransforms.json
var ReportShape = Shape{
	Descriptor: "report.json",
	Rules: []Rule{
		Embedded("config"),
		Embedded("filters"),
		Items("sections", Shape{
			Descriptor: "section.json",
			Rules: []Rule{
				Embedded("config"),
				Embedded("filters"),
				Items("visualContainers", Shape{
					Descriptor: "visualContainer.json",
					Rules: []Rule{
						Embedded("config"),
						Embedded("filters"),
						Embedded("query"),
						Embedded("dataTransforms"),
					},
				}, "config.name", "id").WithOrdinal(5),
			},
		}, "displayName", "name").WithOrdinal(3),
		JSONFile("resourcePackages"),
	},
}

// Registry returns the serializer of every artifact, in extraction order,
// honoring the per-artifact settings.
func Registry(settings api.Settings, logger *slog.Logger) []Serializer {
	modelStrip := ModelVolatile
	if settings.Model.IgnoreProperties != nil {
		modelStrip = settings.Model.IgnoreProperties
	}
	model := Serializer(NewShape(ArtifactModel, "Model", ModelShape, modelStrip, logger))
	if settings.Model.EffectiveMode() == api.ModeRaw {
		model = NewRaw(ArtifactModel)
	}
	report := Serializer(NewShape(ArtifactReport, "Report", ReportShape, settings.Report.IgnoreProperties, logger))
	if settings.Report.EffectiveMode() == api.ModeRaw {
		report = NewRaw(ArtifactReport)
	}
	mashup := Serializer(NewMashup("Mashup", logger))
	if settings.Mashup.EffectiveMode() == api.ModeRaw {
		mashup = NewRaw(ArtifactMashup)
	}
	return []Serializer{
		NewVersion("Version.txt"),
		NewDocument(ArtifactConnections, "Connections.json"),
		model,
		report,
		mashup,
		NewDocument(ArtifactDiagramLayout, "DiagramLayout.json"),
		NewDocument(ArtifactDiagramViewState, "DiagramViewState.json"),
		NewDocument(ArtifactLinguisticSchema, "LinguisticSchema.json").WithLegacy("LinguisticSchema.xml"),
		NewDocument(ArtifactReportMetadata, "ReportMetadata.json"),
		NewDocument(ArtifactReportSettings, "ReportSettings.json"),
		NewFiles(ArtifactCustomVisuals, "CustomVisuals"),
		NewFiles(ArtifactStaticResources, "StaticResources"),
	}
}

// Lookup finds a serializer by artifact name.
func Lookup(serializers []Serializer, name string) (Serializer, bool) {
	for _, s := range serializers {
		if s.Name() == name {
			return s, true
		}
	}
	return nil, false
}
