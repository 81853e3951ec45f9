package disk

import (
	"bufio"
	"fmt"
	"os"
	"os/user"
	"strconv"
	"strings"
	"sync"
)

var (
	// Cached QEMU user/group IDs
	qemuUID  int
	qemuGID  int
	qemuOnce sync.Once
	qemuErr  error
)

// qemuUserGroup returns the UID and GID of the user QEMU guests run as.
// It attempts multiple strategies to determine the correct user:
//  1. Read from /etc/libvirt/qemu.conf to get the configured user/group
//  2. Fall back to common user names (qemu, libvirt-qemu)
//  3. Fall back to 107, the Fedora/RHEL default, as a last resort
//
// The result is cached after the first call.
func qemuUserGroup() (uid, gid int, err error) {
	qemuOnce.Do(func() {
		username, groupname := configuredQEMUUser()

		if username != "" {
			if u, err := user.Lookup(username); err == nil {
				qemuUID = mustAtoi(u.Uid)
				qemuGID = mustAtoi(u.Gid)
				if groupname != "" {
					if g, err := user.LookupGroup(groupname); err == nil {
						qemuGID = mustAtoi(g.Gid)
					}
				}
				return
			}
		}

		for _, name := range []string{"qemu", "libvirt-qemu"} {
			if u, err := user.Lookup(name); err == nil {
				qemuUID = mustAtoi(u.Uid)
				qemuGID = mustAtoi(u.Gid)
				return
			}
		}

		qemuUID = 107
		qemuGID = 107
		qemuErr = fmt.Errorf("could not determine QEMU user/group, using fallback UID/GID 107")
	})

	return qemuUID, qemuGID, qemuErr
}

// configuredQEMUUser reads /etc/libvirt/qemu.conf and extracts the
// configured user and group names. Returns empty strings if the file does
// not exist or the settings are absent.
func configuredQEMUUser() (username, groupname string) {
	file, err := os.Open("/etc/libvirt/qemu.conf")
	if err != nil {
		return "", ""
	}
	defer func() { _ = file.Close() }()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Matches user = "name" and group = 'name' forms.
		if strings.HasPrefix(line, "user") {
			if _, value, ok := strings.Cut(line, "="); ok {
				username = strings.Trim(strings.TrimSpace(value), `"'`)
			}
		}
		if strings.HasPrefix(line, "group") {
			if _, value, ok := strings.Cut(line, "="); ok {
				groupname = strings.Trim(strings.TrimSpace(value), `"'`)
			}
		}
	}

	return username, groupname
}

// mustAtoi converts the numeric ID strings os/user produces on Linux.
func mustAtoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
