package updater

import (
	"errors"
	"fmt"
	"strconv"
)

// ContractVersion is the version of the installer environment contract.
const ContractVersion = 1

// Environment keys read by the installer.
const (
	EnvExePath         = "exe_path"
	EnvUpdateTempPath  = "update_temp_path"
	EnvConfigFileName  = "update_config_file_name"
	EnvExePID          = "exe_pid"
	EnvContractVersion = "update_contract_version"
	EnvRunAdmin        = "UPDATE_RUN_ADMIN"
)

// Handoff is everything the installer needs to apply a staged update.
type Handoff struct {
	ExePath        string // executable being updated
	UpdateTempPath string // directory holding verified blobs and the diff record
	ConfigFileName string // diff record file name inside UpdateTempPath
	ExePID         int    // the installer waits for this process to exit
	RunAsAdmin     bool
}

// Validate checks that every required field is set.
func (h Handoff) Validate() error {
	var errs []error
	if h.ExePath == "" {
		errs = append(errs, errors.New("exe path is empty"))
	}
	if h.UpdateTempPath == "" {
		errs = append(errs, errors.New("update temp path is empty"))
	}
	if h.ConfigFileName == "" {
		errs = append(errs, errors.New("config file name is empty"))
	}
	if h.ExePID <= 0 {
		errs = append(errs, fmt.Errorf("invalid pid %d", h.ExePID))
	}
	return errors.Join(errs...)
}

// Environ renders the contract as KEY=value pairs.
func (h Handoff) Environ() []string {
	env := []string{
		EnvExePath + "=" + h.ExePath,
		EnvUpdateTempPath + "=" + h.UpdateTempPath,
		EnvConfigFileName + "=" + h.ConfigFileName,
		EnvExePID + "=" + strconv.Itoa(h.ExePID),
		EnvContractVersion + "=" + strconv.Itoa(ContractVersion),
	}
	if h.RunAsAdmin {
		env = append(env, EnvRunAdmin+"=1")
	}
	return env
}

// HandoffFromEnv reads the contract on the installer side. Pass
// os.LookupEnv in production.
func HandoffFromEnv(lookup func(string) (string, bool)) (Handoff, error) {
	get := func(k string) string {
		v, _ := lookup(k)
		return v
	}

	if v, ok := lookup(EnvContractVersion); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n > ContractVersion {
			return Handoff{}, fmt.Errorf("unsupported contract version %q", v)
		}
	}

	h := Handoff{
		ExePath:        get(EnvExePath),
		UpdateTempPath: get(EnvUpdateTempPath),
		ConfigFileName: get(EnvConfigFileName),
		RunAsAdmin:     get(EnvRunAdmin) == "1",
	}
	if pid := get(EnvExePID); pid != "" {
		n, err := strconv.Atoi(pid)
		if err != nil {
			return Handoff{}, fmt.Errorf("parse %s: %w", EnvExePID, err)
		}
		h.ExePID = n
	}
	if err := h.Validate(); err != nil {
		return Handoff{}, err
	}
	return h, nil
}
