//go:build linux
// +build linux

package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"cubo/internal/image"
	"cubo/internal/rootfs"
	"cubo/internal/runtime"
	"cubo/internal/state"
	"cubo/internal/volume"
	"cubo/pkg/cubo_errors"

	"github.com/spf13/cobra"
)

var (
	tty         bool
	interactive bool
	rootfsFlag  string // --rootfs: explicit pre-built rootfs, mutually exclusive with an image ref
	detach      bool

	containerName string
	hostname      string
	envVars       []string
	workDir       string
	user          string

	publishPorts []string
	volumes      []string
)

var runCmd = &cobra.Command{
	Use:   "run [flags] BLUEPRINT COMMAND [ARG...]",
	Short: "Run a command in a new container",
	Long: `Creates and runs a new container from an image (a "blueprint") or an
explicit root filesystem directory.

The container is isolated with PID, mount, UTS, IPC, and user namespaces.

Examples:
  cubo run alpine:latest /bin/sh
  cubo run -it alpine /bin/sh
  cubo run -d alpine /bin/sleep 100
  cubo run -p 8080:80 alpine /bin/httpd
  cubo run -v /host/data:/data alpine /bin/sh
  cubo run -v myvolume:/data alpine /bin/sh
  cubo run --name my-container alpine /bin/sh
  cubo run -e FOO=bar -w /app -u nobody alpine /bin/sh
  cubo run --rootfs /tmp/rootfs /bin/sh`,
	Args: cobra.MinimumNArgs(1),
	RunE: runContainer,
}

func init() {
	runCmd.Flags().BoolVarP(&tty, "tty", "t", false, "allocate a pseudo-TTY")
	runCmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "keep STDIN open even if not attached")
	runCmd.Flags().StringVar(&rootfsFlag, "rootfs", "", "use this directory as the container root filesystem instead of a blueprint")
	runCmd.Flags().BoolVarP(&detach, "detach", "d", false, "run the container in the background and print its ID")

	runCmd.Flags().StringArrayVarP(&publishPorts, "publish", "p", nil, "publish a port ([hostIP:]hostPort:containerPort[/protocol]); recorded for display only")
	runCmd.Flags().StringArrayVarP(&volumes, "volume", "v", nil, "bind mount or named volume (/host:/container[:ro] or name:/container[:ro])")

	runCmd.Flags().StringVar(&containerName, "name", "", "assign a name to the container")
	runCmd.Flags().StringVar(&hostname, "hostname", "", "container hostname (default: the first 12 characters of the container ID)")
	runCmd.Flags().StringArrayVarP(&envVars, "env", "e", nil, "set an environment variable (KEY=VALUE, or KEY to inherit from the host)")
	runCmd.Flags().StringVarP(&workDir, "workdir", "w", "", "working directory inside the container")
	runCmd.Flags().StringVarP(&user, "user", "u", "", "user to run as (user[:group] or uid[:gid])")
}

func runContainer(cmd *cobra.Command, args []string) error {
	var blueprint string
	var command []string

	if rootfsFlag != "" {
		command = args
	} else {
		if len(args) < 2 {
			return fmt.Errorf("%w: usage: run BLUEPRINT COMMAND [ARG...] or run --rootfs PATH COMMAND [ARG...]", cubo_errors.ErrUsage)
		}
		blueprint = args[0]
		command = args[1:]
	}

	if rootfsFlag != "" {
		abs, err := filepath.Abs(rootfsFlag)
		if err != nil {
			return fmt.Errorf("%w: invalid rootfs path: %v", cubo_errors.ErrUsage, err)
		}
		if info, err := os.Stat(abs); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("%w: rootfs does not exist: %s", cubo_errors.ErrInvalidRootfs, abs)
			}
			return fmt.Errorf("%w: cannot access rootfs: %v", cubo_errors.ErrRuntime, err)
		} else if !info.IsDir() {
			return fmt.Errorf("%w: rootfs is not a directory: %s", cubo_errors.ErrInvalidRootfs, abs)
		}
		rootfsFlag = abs
	}

	mounts, err := parseVolumeFlags()
	if err != nil {
		return fmt.Errorf("%w: invalid volume configuration: %v", cubo_errors.ErrUsage, err)
	}

	ports, err := parsePortFlags()
	if err != nil {
		return fmt.Errorf("%w: invalid port configuration: %v", cubo_errors.ErrUsage, err)
	}

	parsedEnvVars, err := parseEnvVars(envVars)
	if err != nil {
		return fmt.Errorf("%w: invalid environment variable: %v", cubo_errors.ErrUsage, err)
	}

	if containerName != "" {
		if err := validateContainerName(containerName); err != nil {
			return fmt.Errorf("%w: invalid container name: %v", cubo_errors.ErrUsage, err)
		}
	}

	store, err := state.NewStore(resolvedRoot())
	if err != nil {
		return fmt.Errorf("%w: failed to initialize state store: %v", cubo_errors.ErrRuntime, err)
	}

	config := &runtime.ContainerConfig{
		Command:      command[0:1],
		Args:         command[1:],
		TTY:          tty,
		Interactive:  interactive,
		Rootfs:       rootfsFlag,
		Detached:     detach,
		Blueprint:    blueprint,
		Mounts:       mounts,
		PortMappings: ports,
		Name:         containerName,
		Env:          parsedEnvVars,
		WorkingDir:   workDir,
		User:         user,
	}

	config.ID = runtime.GenerateContainerID()
	if hostname != "" {
		config.Hostname = hostname
	} else {
		config.Hostname = config.ShortID()
	}

	var preparedRootfs string
	if blueprint != "" {
		imageStore, err := image.NewStore(store.RootDir)
		if err != nil {
			return fmt.Errorf("%w: initialize image store: %v", cubo_errors.ErrRuntime, err)
		}

		img, err := imageStore.Get(blueprint)
		if err != nil {
			return fmt.Errorf("%w: blueprint not found: %v", cubo_errors.ErrImageNotFound, err)
		}

		preparedRootfs = filepath.Join(store.RootDir, "rootfs", config.ID)
		if err := rootfs.Assemble(imageStore, blueprint, img, preparedRootfs); err != nil {
			return fmt.Errorf("%w: assemble rootfs: %v", cubo_errors.ErrRuntime, err)
		}
		config.Rootfs = preparedRootfs
	}

	exitCode, err := runtime.Run(config, &runtime.RunOptions{StateStore: store})
	if err != nil {
		if preparedRootfs != "" {
			os.RemoveAll(preparedRootfs)
		}
		return fmt.Errorf("%w: %v", cubo_errors.ErrRuntime, err)
	}

	if detach {
		fmt.Println(config.ID)
		return nil
	}

	os.Exit(exitCode)
	return nil // unreachable
}

// parsePortFlags parses the -p/--publish flags into runtime.PortMapping
// values. cubo records published ports for display (`cubo ps CONTAINER`) but does
// not program a NAT rule for them, per the Non-goals around live network
// namespace plumbing.
func parsePortFlags() ([]runtime.PortMapping, error) {
	var mappings []runtime.PortMapping
	for _, spec := range publishPorts {
		pm, err := parsePortMapping(spec)
		if err != nil {
			return nil, fmt.Errorf("invalid port mapping %q: %w", spec, err)
		}
		mappings = append(mappings, pm)
	}
	return mappings, nil
}

// parsePortMapping parses a port publish spec. Supported forms:
//
//	hostPort:containerPort
//	hostPort:containerPort/protocol
//	hostIP:hostPort:containerPort
//	hostIP:hostPort:containerPort/protocol
func parsePortMapping(spec string) (runtime.PortMapping, error) {
	pm := runtime.PortMapping{Protocol: "tcp"}

	if idx := strings.LastIndex(spec, "/"); idx != -1 {
		protocol := strings.ToLower(spec[idx+1:])
		if protocol != "tcp" && protocol != "udp" {
			return pm, fmt.Errorf("unsupported protocol: %s (supported: tcp, udp)", protocol)
		}
		pm.Protocol = protocol
		spec = spec[:idx]
	}

	parts := strings.Split(spec, ":")
	switch len(parts) {
	case 2:
		hostPort, err := parsePort(parts[0])
		if err != nil {
			return pm, fmt.Errorf("invalid host port: %w", err)
		}
		containerPort, err := parsePort(parts[1])
		if err != nil {
			return pm, fmt.Errorf("invalid container port: %w", err)
		}
		pm.HostPort = hostPort
		pm.ContainerPort = containerPort
	case 3:
		pm.HostIP = parts[0]
		hostPort, err := parsePort(parts[1])
		if err != nil {
			return pm, fmt.Errorf("invalid host port: %w", err)
		}
		containerPort, err := parsePort(parts[2])
		if err != nil {
			return pm, fmt.Errorf("invalid container port: %w", err)
		}
		pm.HostPort = hostPort
		pm.ContainerPort = containerPort
	default:
		return pm, fmt.Errorf("invalid format, expected hostPort:containerPort or hostIP:hostPort:containerPort")
	}

	return pm, nil
}

func parsePort(s string) (uint16, error) {
	port, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid port number: %s", s)
	}
	if port == 0 {
		return 0, fmt.Errorf("port must be between 1 and 65535")
	}
	return uint16(port), nil
}

func parseVolumeFlags() ([]volume.Mount, error) {
	var mounts []volume.Mount
	for _, spec := range volumes {
		mount, err := parseVolumeSpec(spec)
		if err != nil {
			return nil, fmt.Errorf("invalid volume spec %q: %w", spec, err)
		}
		mounts = append(mounts, mount)
	}
	return mounts, nil
}

// parseVolumeSpec parses a single -v spec. Supported forms:
//
//	/host/path:/container/path[:options]  -> bind mount
//	volume_name:/container/path[:options] -> named volume
//
// options is a comma-separated list of ro/rw.
func parseVolumeSpec(spec string) (volume.Mount, error) {
	var mount volume.Mount

	parts := strings.Split(spec, ":")

	var source, target, optionsStr string
	switch len(parts) {
	case 2:
		source, target = parts[0], parts[1]
	case 3:
		source, target, optionsStr = parts[0], parts[1], parts[2]
	default:
		return mount, fmt.Errorf("invalid format, expected source:target[:options]")
	}

	if source == "" {
		return mount, fmt.Errorf("source cannot be empty")
	}
	if !filepath.IsAbs(target) {
		return mount, fmt.Errorf("container path must be absolute: %s", target)
	}

	if filepath.IsAbs(source) {
		mount.Type = volume.MountTypeBind
		if _, err := os.Stat(source); err != nil {
			if os.IsNotExist(err) {
				return mount, fmt.Errorf("source path does not exist: %s", source)
			}
			return mount, fmt.Errorf("cannot access source path: %w", err)
		}
	} else {
		mount.Type = volume.MountTypeVolume
		if !volume.IsValidVolumeName(source) {
			return mount, fmt.Errorf("invalid volume name: %s (must be alphanumeric, can contain hyphen and underscore)", source)
		}
	}

	mount.Source = source
	mount.Target = target

	if optionsStr != "" {
		for _, opt := range strings.Split(optionsStr, ",") {
			switch strings.ToLower(strings.TrimSpace(opt)) {
			case "ro", "readonly":
				mount.ReadOnly = true
			case "rw":
				mount.ReadOnly = false
			default:
				return mount, fmt.Errorf("unknown option: %s (supported: ro, rw)", opt)
			}
		}
	}

	return mount, nil
}

// parseEnvVars parses -e/--env flags. KEY=VALUE sets a variable directly;
// a bare KEY inherits the current value from the host environment (silently
// dropped if unset, matching the common container-runtime convention).
func parseEnvVars(envs []string) ([]string, error) {
	var result []string
	for _, env := range envs {
		if idx := strings.Index(env, "="); idx != -1 {
			key := env[:idx]
			if key == "" {
				return nil, fmt.Errorf("empty variable name in %q", env)
			}
			if !isValidEnvName(key) {
				return nil, fmt.Errorf("invalid variable name %q", key)
			}
			result = append(result, env)
		} else {
			if !isValidEnvName(env) {
				return nil, fmt.Errorf("invalid variable name %q", env)
			}
			if value, ok := os.LookupEnv(env); ok {
				result = append(result, env+"="+value)
			}
		}
	}
	return result, nil
}

func isValidEnvName(name string) bool {
	if len(name) == 0 {
		return false
	}
	for i, r := range name {
		if i == 0 {
			if !(r >= 'A' && r <= 'Z') && !(r >= 'a' && r <= 'z') && r != '_' {
				return false
			}
		} else if !(r >= 'A' && r <= 'Z') && !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') && r != '_' {
			return false
		}
	}
	return true
}

// validateContainerName enforces cubo's container naming rule (the state
// package's NameStore accepts any string): alphanumeric first character,
// then alphanumeric plus underscore/dot/hyphen, at most 128 characters.
func validateContainerName(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("name cannot be empty")
	}
	if len(name) > 128 {
		return fmt.Errorf("name too long (max 128 characters)")
	}
	for i, r := range name {
		if i == 0 {
			if !(r >= 'A' && r <= 'Z') && !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') {
				return fmt.Errorf("name must start with alphanumeric character")
			}
		} else if !(r >= 'A' && r <= 'Z') && !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') &&
			r != '_' && r != '.' && r != '-' {
			return fmt.Errorf("name can only contain alphanumeric characters, underscores, dots, and hyphens")
		}
	}
	return nil
}
