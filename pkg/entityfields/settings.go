package entityfields

import (
	"context"
	"fmt"
	"sort"
)

// Setting names as exposed in the settings form
const (
	SettingViewMode        = "view_mode"
	SettingShowEntityLabel = "show_entity_label"
)

// Settings are the administrator-configurable options of the formatter
type Settings struct {
	ViewMode        string `json:"view_mode" yaml:"view_mode"`
	ShowEntityLabel bool   `json:"show_entity_label" yaml:"show_entity_label"`
}

// DefaultSettings returns the settings a new formatter instance starts with
func DefaultSettings() Settings {
	return Settings{
		ViewMode:        DefaultViewMode,
		ShowEntityLabel: false,
	}
}

// Validate checks the settings
func (s Settings) Validate() error {
	if s.ViewMode == "" {
		return fmt.Errorf("%w: view mode cannot be empty", ErrInvalidSettings)
	}
	return nil
}

// IsApplicable reports whether the formatter can render the field
func IsApplicable(field FieldDefinition) bool {
	switch field.Type {
	case FieldTypeEntityReference, FieldTypeDynamicEntityReference:
		return true
	default:
		return false
	}
}

// Form element types
const (
	FormElementSelect   = "select"
	FormElementCheckbox = "checkbox"
)

// Form is the settings form contribution of the formatter
type Form struct {
	Elements []FormElement `json:"elements" yaml:"elements"`
}

// FormElement is one input of the settings form
type FormElement struct {
	Name     string       `json:"name" yaml:"name"`
	Type     string       `json:"type" yaml:"type"`
	Title    string       `json:"title" yaml:"title"`
	Options  []FormOption `json:"options,omitempty" yaml:"options,omitempty"`
	Default  any          `json:"default_value" yaml:"default_value"`
	Required bool         `json:"required,omitempty" yaml:"required,omitempty"`
}

// FormOption is a selectable value of a select element
type FormOption struct {
	Value string `json:"value" yaml:"value"`
	Label string `json:"label" yaml:"label"`
}

// SettingsForm builds the settings form for the field using the view modes
// known for its target entity type
func (f *Formatter) SettingsForm(ctx context.Context, field FieldDefinition) (*Form, error) {
	options, err := f.viewModeOptions(ctx, field)
	if err != nil {
		return nil, &FieldError{Field: field.ID(), Op: "settings_form", Err: err}
	}

	return &Form{
		Elements: []FormElement{
			{
				Name:     SettingViewMode,
				Type:     FormElementSelect,
				Title:    "View mode",
				Options:  options,
				Default:  f.settings.ViewMode,
				Required: true,
			},
			{
				Name:    SettingShowEntityLabel,
				Type:    FormElementCheckbox,
				Title:   "Display Entity Label",
				Default: f.settings.ShowEntityLabel,
			},
		},
	}, nil
}

// SettingsSummary returns the two summary lines shown next to the field
func (f *Formatter) SettingsSummary(ctx context.Context, field FieldDefinition) []string {
	label := f.settings.ViewMode
	if options, err := f.viewModeOptions(ctx, field); err == nil {
		for _, opt := range options {
			if opt.Value == f.settings.ViewMode {
				label = opt.Label
				break
			}
		}
	}

	shown := "hidden"
	if f.settings.ShowEntityLabel {
		shown = "shown"
	}

	return []string{
		fmt.Sprintf("Rendered as %s", label),
		fmt.Sprintf("Entity label: %s", shown),
	}
}

func (f *Formatter) viewModeOptions(ctx context.Context, field FieldDefinition) ([]FormOption, error) {
	options := []FormOption{{Value: DefaultViewMode, Label: "Default"}}

	targetType, err := TargetEntityType(field)
	if err != nil {
		return options, nil
	}

	modes, err := f.displays.ViewModes(ctx, targetType)
	if err != nil {
		return nil, err
	}

	modes = append([]ViewMode(nil), modes...)
	sort.SliceStable(modes, func(i, j int) bool { return modes[i].ID < modes[j].ID })
	for _, mode := range modes {
		if mode.ID == DefaultViewMode {
			if mode.Label != "" {
				options[0].Label = mode.Label
			}
			continue
		}
		label := mode.Label
		if label == "" {
			label = mode.ID
		}
		options = append(options, FormOption{Value: mode.ID, Label: label})
	}
	return options, nil
}
