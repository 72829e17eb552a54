package kzg

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	gokzg4844 "github.com/crate-crypto/go-kzg-4844"

	"github.com/ethpandaops/blob-sender/utils"
)

const setupG2Points = 65

func readTrustedSetup(path string) (*gokzg4844.JSONTrustedSetup, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return readJSONTrustedSetup(path)
	}
	return readTextTrustedSetup(path)
}

func readJSONTrustedSetup(path string) (*gokzg4844.JSONTrustedSetup, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed reading trusted setup: %w", err)
	}
	setup := &gokzg4844.JSONTrustedSetup{}
	if err := json.Unmarshal(data, setup); err != nil {
		return nil, fmt.Errorf("failed parsing trusted setup %v: %w", path, err)
	}
	return setup, nil
}

// readTextTrustedSetup parses the c-kzg trusted_setup.txt layout: the G1 and
// G2 point counts, the G1 points in Lagrange form, then the G2 points in
// monomial form. Newer files append G1 monomial points, which are ignored.
func readTextTrustedSetup(path string) (*gokzg4844.JSONTrustedSetup, error) {
	lines, err := utils.ReadFileLinesTrimmed(path)
	if err != nil {
		return nil, fmt.Errorf("failed reading trusted setup: %w", err)
	}
	return parseTextTrustedSetup(lines)
}

func parseTextTrustedSetup(lines []string) (*gokzg4844.JSONTrustedSetup, error) {
	if len(lines) < 2 {
		return nil, fmt.Errorf("trusted setup too short (%v lines)", len(lines))
	}
	g1Count, err := strconv.Atoi(lines[0])
	if err != nil || g1Count != FieldElementsPerBlob {
		return nil, fmt.Errorf("unexpected G1 point count in trusted setup: %v", lines[0])
	}
	g2Count, err := strconv.Atoi(lines[1])
	if err != nil || g2Count != setupG2Points {
		return nil, fmt.Errorf("unexpected G2 point count in trusted setup: %v", lines[1])
	}
	points := lines[2:]
	if len(points) < g1Count+g2Count {
		return nil, fmt.Errorf("trusted setup truncated (%v points, expected %v)", len(points), g1Count+g2Count)
	}

	setup := &gokzg4844.JSONTrustedSetup{
		SetupG2: make([]gokzg4844.G2CompressedHexStr, g2Count),
	}
	for i := 0; i < g1Count; i++ {
		setup.SetupG1Lagrange[i] = "0x" + strings.TrimPrefix(points[i], "0x")
	}
	for i := 0; i < g2Count; i++ {
		setup.SetupG2[i] = "0x" + strings.TrimPrefix(points[g1Count+i], "0x")
	}
	return setup, nil
}
