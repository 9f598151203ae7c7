// Package common provides the string tables shared by the role and pipeline
// enumerations: canonical names for formatting and tolerant reverse lookups
// for parsing user input.
package common

import (
	"fmt"
	"strings"
)

// EnumStringMap maps enum values to their canonical string.
type EnumStringMap map[int]string

// EnumRegistry provides utilities for managing enum string representations.
type EnumRegistry struct {
	mappings map[string]EnumStringMap
}

// NewEnumRegistry creates a new EnumRegistry instance.
func NewEnumRegistry() *EnumRegistry {
	return &EnumRegistry{
		mappings: make(map[string]EnumStringMap),
	}
}

// RegisterEnum registers an enum type with its string mapping.
func (er *EnumRegistry) RegisterEnum(typeName string, mapping EnumStringMap) {
	er.mappings[typeName] = mapping
}

// FormatEnum formats an enum value for a registered type.
func (er *EnumRegistry) FormatEnum(typeName string, value int) string {
	if mapping, exists := er.mappings[typeName]; exists {
		if str, found := mapping[value]; found {
			return str
		}
	}
	return fmt.Sprintf("unknown_%s(%d)", typeName, value)
}

// GetEnumMapping returns the mapping for a registered enum type.
func (er *EnumRegistry) GetEnumMapping(typeName string) (EnumStringMap, bool) {
	mapping, exists := er.mappings[typeName]
	return mapping, exists
}

// RowRoleMapping maps row roles to their wire names.
var RowRoleMapping = EnumStringMap{
	0: "sample",   // RowData
	1: "header",   // RowIndex
	2: "metadata", // RowMetadata
	3: "masked",   // RowIgnore
}

// ColumnRoleMapping maps column roles to their wire names.
var ColumnRoleMapping = EnumStringMap{
	0: "measurement", // ColumnData
	1: "key",         // ColumnIndex
	2: "group",       // ColumnGroup
	3: "metadata",    // ColumnMetadata
	4: "masked",      // ColumnIgnore
}

// AxisMapping maps axes to their wire names.
var AxisMapping = EnumStringMap{
	0: "row",    // AxisRow
	1: "column", // AxisColumn
}

// StageMapping maps pipeline stages to their configuration names.
var StageMapping = EnumStringMap{
	0: "imputation_mnar", // ImputationMNAR
	1: "imputation_mcar", // ImputationMCAR
	2: "normalization",   // Normalization
	3: "transformation",  // Transformation
	4: "scaling",         // Scaling
}

// Aliases accepted when parsing, beyond the canonical names.
var (
	rowRoleAliases = map[string]int{
		"data":   0,
		"index":  1,
		"ignore": 3,
	}
	columnRoleAliases = map[string]int{
		"data":   0,
		"index":  1,
		"ignore": 4,
		"header": 4,
	}
)

// Default enum registry with the dataset mappings.
var defaultEnumRegistry = func() *EnumRegistry {
	registry := NewEnumRegistry()
	registry.RegisterEnum("RowRole", RowRoleMapping)
	registry.RegisterEnum("ColumnRole", ColumnRoleMapping)
	registry.RegisterEnum("Axis", AxisMapping)
	registry.RegisterEnum("Stage", StageMapping)
	return registry
}()

// FormatEnum formats an enum value using a mapping directly.
func FormatEnum(value int, mapping EnumStringMap) string {
	if str, found := mapping[value]; found {
		return str
	}
	return fmt.Sprintf("unknown(%d)", value)
}

// FormatRowRole formats a row role enum value.
func FormatRowRole(role int) string {
	return defaultEnumRegistry.FormatEnum("RowRole", role)
}

// FormatColumnRole formats a column role enum value.
func FormatColumnRole(role int) string {
	return defaultEnumRegistry.FormatEnum("ColumnRole", role)
}

// FormatAxis formats an axis enum value.
func FormatAxis(axis int) string {
	return defaultEnumRegistry.FormatEnum("Axis", axis)
}

// FormatStage formats a pipeline stage enum value.
func FormatStage(stage int) string {
	return defaultEnumRegistry.FormatEnum("Stage", stage)
}

// StringToEnum provides utilities for parsing enum values from strings.
type StringToEnum struct {
	reverseMappings map[string]map[string]int
}

// NewStringToEnum creates a new StringToEnum instance.
func NewStringToEnum() *StringToEnum {
	return &StringToEnum{
		reverseMappings: make(map[string]map[string]int),
	}
}

// RegisterReverseMapping registers a reverse mapping for an enum type.
// Lookups are case-insensitive.
func (ste *StringToEnum) RegisterReverseMapping(typeName string, mapping EnumStringMap) {
	reverseMap := make(map[string]int)
	for value, str := range mapping {
		reverseMap[strings.ToLower(str)] = value
	}
	ste.reverseMappings[typeName] = reverseMap
}

// RegisterAliases adds extra accepted spellings to a registered type.
func (ste *StringToEnum) RegisterAliases(typeName string, aliases map[string]int) {
	reverseMap, exists := ste.reverseMappings[typeName]
	if !exists {
		reverseMap = make(map[string]int)
		ste.reverseMappings[typeName] = reverseMap
	}
	for alias, value := range aliases {
		reverseMap[strings.ToLower(alias)] = value
	}
}

// ParseEnum parses a string to its enum value.
func (ste *StringToEnum) ParseEnum(typeName, str string) (int, bool) {
	if reverseMap, exists := ste.reverseMappings[typeName]; exists {
		if value, found := reverseMap[strings.ToLower(strings.TrimSpace(str))]; found {
			return value, true
		}
	}
	return 0, false
}

// Default string-to-enum converter with the dataset mappings.
var defaultStringToEnum = func() *StringToEnum {
	converter := NewStringToEnum()
	converter.RegisterReverseMapping("RowRole", RowRoleMapping)
	converter.RegisterAliases("RowRole", rowRoleAliases)
	converter.RegisterReverseMapping("ColumnRole", ColumnRoleMapping)
	converter.RegisterAliases("ColumnRole", columnRoleAliases)
	converter.RegisterReverseMapping("Axis", AxisMapping)
	converter.RegisterReverseMapping("Stage", StageMapping)
	return converter
}()

// ParseRowRole parses a row role string.
func ParseRowRole(str string) (int, bool) {
	return defaultStringToEnum.ParseEnum("RowRole", str)
}

// ParseColumnRole parses a column role string.
func ParseColumnRole(str string) (int, bool) {
	return defaultStringToEnum.ParseEnum("ColumnRole", str)
}

// ParseAxis parses an axis string.
func ParseAxis(str string) (int, bool) {
	return defaultStringToEnum.ParseEnum("Axis", str)
}

// ParseStage parses a pipeline stage string.
func ParseStage(str string) (int, bool) {
	return defaultStringToEnum.ParseEnum("Stage", str)
}
