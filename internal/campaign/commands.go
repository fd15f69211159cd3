package campaign

import (
	"fmt"
	"path"
	"strconv"

	"github.com/narvanalabs/benchctl/internal/models"
	"github.com/narvanalabs/benchctl/internal/remote"
)

// Remote paths and commands of the dio node tooling.
const (
	monitorCommand     = "sudo dio-monitor"
	resetCountersCmd   = "sudo dio-client --reset-counters"
	monitorConfigDir   = "/etc/dio"
	monitorConfigName  = "market.toml"
	monitorLogPath     = "/var/log/dio/control-log.json"
	phoronixDeb        = "phoronix.deb"
	phoronixUserConfig = "user-config.xml"
	phoronixConfigDir  = ".phoronix-test-suite"
	imageDir           = "/root/.qcow2"
)

const phoronixInstall = `sudo apt update ; sudo apt install -y php-cli php-xml unzip ; ` +
	`sudo apt --fix-broken install -y ; sudo dpkg -i phoronix.deb ; echo -e "y\nn" | phoronix-test-suite`

func provisionCommand(vm string) string {
	return fmt.Sprintf("dio-client --provision ./%s", configFileName(vm))
}

func natCommand(vm string, port int) string {
	return fmt.Sprintf("dio-client --nat %s --host %d --guest 22", vm, port)
}

func killVMCommand(vm string) string {
	return "dio-client --kill " + vm
}

func configFileName(vm string) string {
	return vm + "_config.toml"
}

func phoronixConfigCommand(user string) string {
	return "mkdir -p " + path.Join("/home", user, phoronixConfigDir)
}

func phoronixTestInstall(test string) string {
	return "phoronix-test-suite install " + remote.Quote(test)
}

func customInstallCommand(test string) string {
	return test + "/install.sh"
}

// startCommand returns the command that runs test inside its VM.
func startCommand(test *models.Test) (string, error) {
	switch test.Kind {
	case models.TestKindPhoronix:
		runs := test.Runs
		if runs < 1 {
			runs = 1
		}
		return "export FORCE_TIMES_TO_RUN=" + strconv.Itoa(runs) +
			" ; phoronix-test-suite batch-run " + remote.Quote(test.Name), nil
	case models.TestKindCustom:
		cmd := "cd " + remote.Quote(test.Name) + " ; ./launch.sh"
		if test.Params != "" {
			cmd += " " + test.Params
		}
		return cmd, nil
	default:
		return "", fmt.Errorf("%s: %w", test.Kind, ErrUnknownTestType)
	}
}
