// Package config holds the dependency-injected configuration the
// lowering pass needs to talk to the runtime it is targeting: the
// concrete names of the list/map/string/error/spawn runtime functions.
// Every value is a field on a Config the caller constructs and threads
// explicitly; there is no package-level mutable state.
package config

import "gopkg.in/yaml.v3"

// ListType names the runtime representation lowering targets for list
// literals and comprehensions.
type ListType struct {
	TypeName         string `yaml:"type_name"`
	LazyFunctionName string `yaml:"lazy_function_name"`
}

// MapIteration names the runtime functions used to lower
// MapIterationComprehension. IfMap does not use them; it is lowered
// through MapType.LookupFunctionName.
type MapIteration struct {
	IteratorTypeName  string `yaml:"iterator_type_name"`
	IterateFunctionName string `yaml:"iterate_function_name"`
	KeyFunctionName     string `yaml:"key_function_name"`
	ValueFunctionName   string `yaml:"value_function_name"`
	RestFunctionName    string `yaml:"rest_function_name"`
}

type MapType struct {
	TypeName           string       `yaml:"type_name"`
	Iteration          MapIteration `yaml:"iteration"`
	EmptyFunctionName  string       `yaml:"empty_function_name"`
	InsertFunctionName string       `yaml:"insert_function_name"`
	MergeFunctionName  string       `yaml:"merge_function_name"`
	DeleteFunctionName string       `yaml:"delete_function_name"`
	LookupFunctionName string       `yaml:"lookup_function_name"`
}

type StringType struct {
	EqualFunctionName string `yaml:"equal_function_name"`
}

// Equality names the runtime function lowering falls back to for
// equality between operands whose type is none of Number, Boolean,
// None or String (records, lists, maps, unions).
type Equality struct {
	GenericEqualFunctionName string `yaml:"generic_equal_function_name"`
}

type ErrorType struct {
	ErrorTypeName string `yaml:"error_type_name"`
}

type Concurrency struct {
	ModuleLocalSpawnFunctionName string `yaml:"module_local_spawn_function_name"`
}

// Config is constructor-injected at pipeline construction; every pass
// that needs it receives it as an explicit argument.
type Config struct {
	ListType    ListType    `yaml:"list_type"`
	MapType     MapType     `yaml:"map_type"`
	StringType  StringType  `yaml:"string_type"`
	ErrorType   ErrorType   `yaml:"error_type"`
	Concurrency Concurrency `yaml:"concurrency"`
	Equality    Equality    `yaml:"equality"`
}

// Default returns the configuration the test suite and any standalone
// embedding use when no override file is loaded.
func Default() Config {
	return Config{
		ListType: ListType{
			TypeName:         "List",
			LazyFunctionName: "$lazyList",
		},
		MapType: MapType{
			TypeName: "Map",
			Iteration: MapIteration{
				IteratorTypeName:    "$MapIterator",
				IterateFunctionName: "$mapIterate",
				KeyFunctionName:     "$mapIterKey",
				ValueFunctionName:   "$mapIterValue",
				RestFunctionName:    "$mapIterRest",
			},
			EmptyFunctionName:  "$mapEmpty",
			InsertFunctionName: "$mapInsert",
			MergeFunctionName:  "$mapMerge",
			DeleteFunctionName: "$mapDelete",
			LookupFunctionName: "$mapLookup",
		},
		StringType: StringType{
			EqualFunctionName: "$stringEqual",
		},
		ErrorType: ErrorType{
			ErrorTypeName: "Error",
		},
		Concurrency: Concurrency{
			ModuleLocalSpawnFunctionName: "$spawn",
		},
		Equality: Equality{
			GenericEqualFunctionName: "$equal",
		},
	}
}

// LoadConfigYAML parses a Config from YAML, falling back to Default()
// for any field left unset, so a fixture only needs to override what
// it cares about.
func LoadConfigYAML(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
