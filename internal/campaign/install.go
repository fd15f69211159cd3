package campaign

import (
	"context"
	"fmt"
	"path"
	"path/filepath"

	"github.com/narvanalabs/benchctl/internal/models"
	"github.com/narvanalabs/benchctl/internal/remote"
)

// install prepares every connected VM in two supervised phases: the first sets up
// the test tooling, the second installs phoronix test profiles once the suite
// itself is present.
func (s *Session) install(ctx context.Context) error {
	var (
		first    []remote.Handle
		phoronix []models.Binding
	)
	for _, b := range s.registry.Placed() {
		host := s.vmHosts[b.VM.Name]
		switch b.Test.Kind {
		case models.TestKindPhoronix:
			h, err := s.installPhoronix(ctx, host)
			if err != nil {
				return fmt.Errorf("installing phoronix on %s: %w", b.VM.Name, err)
			}
			first = append(first, h)
			phoronix = append(phoronix, b)
		case models.TestKindCustom:
			h, err := s.installCustom(ctx, host, b.Test)
			if err != nil {
				return fmt.Errorf("installing %s on %s: %w", b.Test.Name, b.VM.Name, err)
			}
			first = append(first, h)
		default:
			s.logger.Error("skipping vm",
				"vm", b.VM.Name,
				"type", string(b.Test.Kind),
				"error", ErrUnknownTestType,
			)
			s.skipped = append(s.skipped, b.VM.Name)
		}
	}

	if err := s.sup.WaitAndForce(ctx, first); err != nil {
		return fmt.Errorf("installing tests: %w", err)
	}

	second := make([]remote.Handle, 0, len(phoronix))
	for _, b := range phoronix {
		h, err := s.exec.Launch(ctx, []remote.Host{s.vmHosts[b.VM.Name]}, phoronixTestInstall(b.Test.Name))
		if err != nil {
			return fmt.Errorf("installing %s on %s: %w", b.Test.Name, b.VM.Name, err)
		}
		second = append(second, h)
	}
	if err := s.sup.WaitAndForce(ctx, second); err != nil {
		return fmt.Errorf("installing phoronix tests: %w", err)
	}

	s.logger.Info("tests installed", "vms", len(first), "skipped", len(s.skipped))
	return nil
}

func (s *Session) installPhoronix(ctx context.Context, host remote.Host) (remote.Handle, error) {
	hosts := []remote.Host{host}
	assets := filepath.Join(s.cfg.AssetsDir, "phoronix")

	if err := s.exec.Upload(ctx, hosts, []string{filepath.Join(assets, phoronixDeb)}, "."); err != nil {
		return nil, err
	}
	if err := s.exec.Run(ctx, hosts, phoronixConfigCommand(s.cfg.VMUser)); err != nil {
		return nil, err
	}
	if err := s.exec.Upload(ctx, hosts, []string{filepath.Join(assets, phoronixUserConfig)}, phoronixConfigDir+"/"); err != nil {
		return nil, err
	}
	return s.exec.Launch(ctx, hosts, phoronixInstall)
}

// installCustom mirrors the test's asset tree into the VM home and launches its
// install script.
func (s *Session) installCustom(ctx context.Context, host remote.Host, test *models.Test) (remote.Handle, error) {
	hosts := []remote.Host{host}
	tree, err := walkTree(filepath.Join(s.cfg.AssetsDir, test.Name))
	if err != nil {
		return nil, err
	}

	for _, dir := range tree {
		dest := path.Join(test.Name, dir.Rel)
		if err := s.exec.Run(ctx, hosts, "mkdir -p "+remote.Quote(dest)); err != nil {
			return nil, err
		}
		if len(dir.Files) == 0 {
			continue
		}
		if err := s.exec.Upload(ctx, hosts, dir.Files, dest); err != nil {
			return nil, err
		}
	}
	return s.exec.Launch(ctx, hosts, customInstallCommand(test.Name))
}
