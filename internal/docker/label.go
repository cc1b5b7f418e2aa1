package docker

import (
	"time"

	"github.com/mmr-tortoise/lattice/internal/model"
)

// Label keys attached to every container this tool creates. The labels
// are the only record of what a container belongs to; leftover
// containers can be found and cleaned up from the labels alone.
//
// All keys share the "lattice." prefix so they never collide with
// labels set by other tools.
const (
	// LabelPrefix is the common prefix for all lattice labels.
	LabelPrefix = "lattice."

	// LabelManagedBy identifies containers created by this tool.
	// Key: "lattice.managed-by", value: always "lattice".
	LabelManagedBy = LabelPrefix + "managed-by"

	// LabelRunID stores the run the container belongs to.
	LabelRunID = LabelPrefix + "run-id"

	// LabelCell stores the cell name, e.g. "3.12/DJANGO=5.0".
	LabelCell = LabelPrefix + "cell"

	// LabelLanguage stores the configured language.
	LabelLanguage = LabelPrefix + "language"

	// LabelVersion stores the cell's runtime version.
	LabelVersion = LabelPrefix + "version"

	// LabelCreatedAt stores the RFC3339 creation timestamp.
	LabelCreatedAt = LabelPrefix + "created-at"
)

// ManagedByValue is the value of the LabelManagedBy label on every
// container this tool creates.
const ManagedByValue = "lattice"

// BuildLabels constructs the label map for one cell's container.
func BuildLabels(runID, language string, cell *model.Cell) map[string]string {
	return map[string]string{
		LabelManagedBy: ManagedByValue,
		LabelRunID:     runID,
		LabelCell:      cell.Name(),
		LabelLanguage:  language,
		LabelVersion:   cell.Version,
		LabelCreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

// imageAliases maps language names to Docker Hub image names where the
// two differ. Languages not listed here use their own name as the image.
var imageAliases = map[string]string{
	"go":      "golang",
	"node_js": "node",
	"nodejs":  "node",
	"java":    "eclipse-temurin",
}

// ImageFor resolves the container image for a cell. An explicit entry
// in the configuration's images map wins; otherwise the image is
// "<language>:<version>" with the language name mapped through the
// known Docker Hub aliases.
func ImageFor(cfg *model.Config, cell *model.Cell) string {
	if img, ok := cfg.Images[cell.Version]; ok && img != "" {
		return img
	}

	name := cfg.Language
	if alias, ok := imageAliases[name]; ok {
		name = alias
	}
	if cell.Version == "" {
		return name + ":latest"
	}
	return name + ":" + cell.Version
}
