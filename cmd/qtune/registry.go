package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jamesainslie/qtune/pkg/qtune/registry"
)

var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Inspect the allowed values of enumerated fields",
}

var registryListCmd = &cobra.Command{
	Use:   "list [kind]",
	Short: "List allowed values, marking registered extensions",
	Long: `List prints the values accepted for each kind. Values registered through
the extensions config section or --register are marked with "+".

Kinds: ` + kindNames(),
	Args: cobra.MaximumNArgs(1),
	RunE: runRegistryList,
}

func init() {
	registryCmd.AddCommand(registryListCmd)
	rootCmd.AddCommand(registryCmd)
}

func kindNames() string {
	names := make([]string, 0, len(registry.Kinds()))
	for _, k := range registry.Kinds() {
		names = append(names, string(k))
	}
	return strings.Join(names, ", ")
}

// kindListing is the machine readable form of one kind.
type kindListing struct {
	Kind       string           `json:"kind" yaml:"kind"`
	Extensible bool             `json:"extensible" yaml:"extensible"`
	Values     []registry.Value `json:"values" yaml:"values"`
}

func runRegistryList(_ *cobra.Command, args []string) error {
	kinds := registry.Kinds()
	if len(args) == 1 {
		kind, err := registry.ParseKind(args[0])
		if err != nil {
			return fmt.Errorf("%w (kinds: %s)", err, kindNames())
		}
		kinds = []registry.Kind{kind}
	}

	listings := make([]kindListing, 0, len(kinds))
	for _, k := range kinds {
		listings = append(listings, kindListing{
			Kind:       string(k),
			Extensible: registry.Extensible(k),
			Values:     reg.Values(k),
		})
	}

	switch outputFormat() {
	case "json":
		data, err := json.MarshalIndent(listings, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	case "yaml":
		data, err := yaml.Marshal(listings)
		if err != nil {
			return err
		}
		fmt.Print(string(data))
	default:
		printListings(listings)
	}
	return nil
}

func printListings(listings []kindListing) {
	for i, l := range listings {
		if i > 0 {
			fmt.Println()
		}
		suffix := ""
		if !l.Extensible {
			suffix = " (closed)"
		}
		fmt.Printf("%s%s\n", l.Kind, suffix)
		for _, v := range l.Values {
			marker := " "
			if v.Extension {
				marker = "+"
			}
			fmt.Printf("  %s %s\n", marker, v.Name)
		}
	}
}
