package campaign

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/narvanalabs/benchctl/internal/models"
)

// vmConfig is the provisioning file read by dio-client.
type vmConfig struct {
	VM vmSection `toml:"vm"`
}

type vmSection struct {
	Name      string  `toml:"name"`
	Image     string  `toml:"image"`
	SSHKey    string  `toml:"ssh_key"`
	VCPUs     int     `toml:"vcpus"`
	Memory    int     `toml:"memory"`
	Disk      int     `toml:"disk"`
	Frequency int     `toml:"frequency"`
	MemorySLA float64 `toml:"memorySLA"`
}

// writeVMConfig writes the provisioning file for vm into dir and returns its path.
func writeVMConfig(dir string, vm *models.VM, publicKey string) (string, error) {
	cfg := vmConfig{VM: vmSection{
		Name:      vm.Name,
		Image:     path.Join(imageDir, vm.Image+".qcow2"),
		SSHKey:    publicKey,
		VCPUs:     vm.VCPUs,
		Memory:    vm.Memory,
		Disk:      vm.Disk,
		Frequency: vm.Frequency,
		MemorySLA: vm.MemorySLA,
	}}
	return writeTOML(filepath.Join(dir, configFileName(vm.Name)), cfg)
}

// writeMarketConfig writes the monitor's cpu and memory market sections.
func writeMarketConfig(dir string, cpu, mem map[string]any) (string, error) {
	doc := make(map[string]any, 2)
	if cpu != nil {
		doc["cpu-market"] = cpu
	}
	if mem != nil {
		doc["mem-market"] = mem
	}
	return writeTOML(filepath.Join(dir, monitorConfigName), doc)
}

func writeTOML(p string, v any) (string, error) {
	f, err := os.Create(p)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", p, err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(v); err != nil {
		return "", fmt.Errorf("encoding %s: %w", p, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("writing %s: %w", p, err)
	}
	return p, nil
}

// treeDir is one directory of a custom test tree.
type treeDir struct {
	Rel   string   // slash-separated path relative to the tree root, "." for the root
	Files []string // local paths of the regular files directly inside
}

// walkTree lists the directories of root with the files each one holds, in
// lexical order.
func walkTree(root string) ([]treeDir, error) {
	index := make(map[string]*treeDir)
	var order []string

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if d.IsDir() {
			key := filepath.ToSlash(rel)
			index[key] = &treeDir{Rel: key}
			order = append(order, key)
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		parent := filepath.ToSlash(filepath.Dir(rel))
		index[parent].Files = append(index[parent].Files, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}

	sort.Strings(order)
	out := make([]treeDir, 0, len(order))
	for _, key := range order {
		out = append(out, *index[key])
	}
	return out, nil
}
