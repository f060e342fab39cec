package spschema

import "roadmapper/domain/tenant"

// genericListTemplate is the SharePoint custom list template id.
const genericListTemplate = 100

// Catalog declares the lists and fields a roadmap site is expected to
// carry. Aliases cover titles found on legacy sites provisioned by
// earlier releases.
func Catalog() []tenant.ListDefinition {
	return []tenant.ListDefinition{
		{
			Key:      "projects",
			Title:    "Roadmap Projects",
			Aliases:  []string{"Projects", "RoadmapProjects"},
			Template: genericListTemplate,
			Fields: []tenant.FieldDefinition{
				textField("RoadmapCategory"),
				textField("RoadmapStatus"),
				textField("StartQuarter"),
				textField("EndQuarter"),
				noteField("ProjectDescription"),
				textField("TileColor"),
				textField("TileIcon"),
				numberField("SortOrder"),
				boolField("IsArchived"),
			},
		},
		{
			Key:      "milestones",
			Title:    "Roadmap Milestones",
			Aliases:  []string{"Milestones"},
			Template: genericListTemplate,
			Fields: []tenant.FieldDefinition{
				textField("ProjectKey"),
				dateField("DueDate"),
				boolField("Completed"),
				numberField("SortOrder"),
			},
		},
		{
			Key:      "categories",
			Title:    "Roadmap Categories",
			Aliases:  []string{"Categories", "Swimlanes"},
			Template: genericListTemplate,
			Fields: []tenant.FieldDefinition{
				textField("CategoryColor"),
				numberField("SortOrder"),
			},
		},
		{
			Key:      "statuses",
			Title:    "Roadmap Statuses",
			Aliases:  []string{"Statuses"},
			Template: genericListTemplate,
			Fields: []tenant.FieldDefinition{
				textField("StatusColor"),
				numberField("SortOrder"),
			},
		},
		{
			Key:      "settings",
			Title:    "Roadmap Settings",
			Aliases:  []string{"Settings"},
			Template: genericListTemplate,
			Fields: []tenant.FieldDefinition{
				textField("SettingKey"),
				noteField("SettingValue"),
			},
		},
	}
}

// AllowedTitles returns every canonical title and alias in the catalog,
// the set the protocol proxy admits for getByTitle paths.
func AllowedTitles(catalog []tenant.ListDefinition) []string {
	var titles []string
	for _, def := range catalog {
		titles = append(titles, def.CandidateTitles()...)
	}
	return titles
}

func textField(name string) tenant.FieldDefinition {
	return tenant.FieldDefinition{
		Name:      name,
		Type:      "Text",
		SchemaXML: `<Field Type="Text" Name="` + name + `" StaticName="` + name + `" DisplayName="` + name + `" />`,
	}
}

func noteField(name string) tenant.FieldDefinition {
	return tenant.FieldDefinition{
		Name:      name,
		Type:      "Note",
		SchemaXML: `<Field Type="Note" Name="` + name + `" StaticName="` + name + `" DisplayName="` + name + `" NumLines="6" />`,
	}
}

func numberField(name string) tenant.FieldDefinition {
	return tenant.FieldDefinition{
		Name:      name,
		Type:      "Number",
		SchemaXML: `<Field Type="Number" Name="` + name + `" StaticName="` + name + `" DisplayName="` + name + `" />`,
	}
}

func boolField(name string) tenant.FieldDefinition {
	return tenant.FieldDefinition{
		Name:      name,
		Type:      "Boolean",
		SchemaXML: `<Field Type="Boolean" Name="` + name + `" StaticName="` + name + `" DisplayName="` + name + `"><Default>0</Default></Field>`,
	}
}

func dateField(name string) tenant.FieldDefinition {
	return tenant.FieldDefinition{
		Name:      name,
		Type:      "DateTime",
		SchemaXML: `<Field Type="DateTime" Name="` + name + `" StaticName="` + name + `" DisplayName="` + name + `" Format="DateOnly" />`,
	}
}
