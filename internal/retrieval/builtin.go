package retrieval

import (
	"github.com/ent0n29/lia/internal/hostos"
)

// BuiltinCommandReference is used when no index is reachable or a search
// comes back empty.
func BuiltinCommandReference(family hostos.Family) string {
	switch family {
	case hostos.Windows:
		return `BASIC COMMAND REFERENCE (Windows):

File Operations:
- List files: dir
- Create folder: mkdir folder_name
- Remove file: del file.txt
- Copy file: copy source dest

System Info:
- Disk usage: wmic logicaldisk get size,freespace,caption
- Memory and processes: tasklist or Get-Process (PowerShell)
- Current directory: cd
- Network configuration: ipconfig /all
`
	case hostos.MacOS:
		return `BASIC COMMAND REFERENCE (macOS):

File Operations:
- List files: ls -la
- Create folder: mkdir folder_name
- Remove file: rm file.txt
- Copy file: cp source dest

System Info:
- Disk usage: df -h
- Memory: vm_stat or top -l 1 | head -n 10
- Current directory: pwd
- Network configuration: ifconfig
`
	default:
		return `BASIC COMMAND REFERENCE (Linux):

File Operations:
- List files: ls -la
- Create folder: mkdir folder_name
- Remove file: rm file.txt
- Copy file: cp source dest

System Info:
- Disk usage: df -h
- Memory: free -h
- Current directory: pwd
- Network configuration: ip addr
`
	}
}

// BuiltinSchemaReference lists the most common osquery tables.
func BuiltinSchemaReference() string {
	return `COMMON OSQUERY TABLES:
- processes: pid, name, path, cmdline, uid, parent, state
- users: uid, gid, username, description, directory, shell
- listening_ports: pid, port, protocol, family, address
- process_open_sockets: pid, fd, socket, family, protocol, local_address, local_port, remote_address, remote_port
- logged_in_users: type, user, tty, host, time, pid
- system_info: hostname, uuid, cpu_type, cpu_brand, physical_memory, hardware_model
- os_version: name, version, major, minor, patch, build
- interface_addresses: interface, address, mask, broadcast
- startup_items: name, path, args, type, source, status
- kernel_modules: name, size, used_by, status
- file: path, directory, filename, size, mtime, atime, ctime, uid, gid, mode
- hash: path, md5, sha1, sha256
`
}

// BuiltinDocuments returns the seed documents for collection.
func BuiltinDocuments(collection string) []Document {
	switch collection {
	case CommandsCollection:
		return append([]Document(nil), builtinCommandDocs...)
	case QuerySchemaCollection:
		return append([]Document(nil), builtinSchemaDocs...)
	default:
		return nil
	}
}

func commandDoc(id, platform, text string) Document {
	return Document{ID: id, Text: text, Metadata: Metadata{Platform: platform, Source: "builtin"}}
}

func schemaDoc(table, columns, notes string) Document {
	text := table + " table. Columns: " + columns + ". " + notes
	return Document{ID: "schema-" + table, Text: text, Metadata: Metadata{Table: table, Source: "builtin"}}
}

var builtinCommandDocs = []Document{
	commandDoc("common-ls", "common", "ls\nList directory contents.\n- List all files including hidden ones with details: ls -la\n- List files sorted by size, human readable: ls -lhS"),
	commandDoc("common-find", "common", "find\nFind files or directories under a directory tree.\n- Find files by name: find path -name '*.log'\n- Find files modified in the last day: find path -mtime -1"),
	commandDoc("common-du", "common", "du\nDisk usage of files and directories.\n- Size of a directory, human readable: du -sh path\n- Largest entries in the current directory: du -sh * | sort -h"),
	commandDoc("common-df", "common", "df\nFilesystem disk space usage.\n- Show all filesystems, human readable: df -h"),
	commandDoc("common-ps", "common", "ps\nInformation about running processes.\n- List all processes: ps aux\n- Search for a process: ps aux | grep name"),
	commandDoc("common-grep", "common", "grep\nSearch text using patterns.\n- Search a file: grep 'pattern' file\n- Search recursively, ignoring case: grep -ri 'pattern' path"),
	commandDoc("common-ping", "common", "ping\nSend ICMP echo requests to a host.\n- Ping a host four times: ping -c 4 host"),
	commandDoc("linux-free", "linux", "free\nDisplay amount of free and used memory.\n- Human readable: free -h"),
	commandDoc("linux-ip", "linux", "ip\nShow and manage network interfaces.\n- Show addresses: ip addr\n- Show routes: ip route"),
	commandDoc("linux-ss", "linux", "ss\nInvestigate sockets.\n- Listening TCP and UDP ports with processes: ss -tulpn"),
	commandDoc("linux-systemctl", "linux", "systemctl\nInspect systemd services.\n- Status of a service: systemctl status name\n- List running services: systemctl list-units --type=service --state=running"),
	commandDoc("osx-vm_stat", "osx", "vm_stat\nShow virtual memory statistics on macOS.\n- Display statistics: vm_stat"),
	commandDoc("osx-lsof", "osx", "lsof\nList open files and network connections.\n- Listening ports: lsof -iTCP -sTCP:LISTEN -n -P"),
	commandDoc("osx-sw_vers", "osx", "sw_vers\nPrint macOS version information.\n- Show version: sw_vers"),
	commandDoc("windows-dir", "windows", "dir\nList directory contents.\n- Show all files including hidden: dir /a"),
	commandDoc("windows-tasklist", "windows", "tasklist\nDisplay running processes.\n- List all processes: tasklist\n- Filter by image name: tasklist /fi \"imagename eq name.exe\""),
	commandDoc("windows-ipconfig", "windows", "ipconfig\nDisplay network configuration.\n- Full details: ipconfig /all"),
	commandDoc("windows-netstat", "windows", "netstat\nDisplay network connections.\n- Listening ports with owning process: netstat -ano"),
	commandDoc("windows-wmic-disk", "windows", "wmic logicaldisk\nDisk information.\n- Free space per drive: wmic logicaldisk get size,freespace,caption"),
}

var builtinSchemaDocs = []Document{
	schemaDoc("processes", "pid, name, path, cmdline, uid, gid, parent, state, start_time, resident_size", "All running processes on the host."),
	schemaDoc("users", "uid, gid, username, description, directory, shell", "Local user accounts."),
	schemaDoc("listening_ports", "pid, port, protocol, family, address", "Processes with listening sockets. Join processes on pid for names."),
	schemaDoc("process_open_sockets", "pid, fd, socket, family, protocol, local_address, local_port, remote_address, remote_port, state", "Open network sockets per process. remote_port != 0 means an active connection."),
	schemaDoc("logged_in_users", "type, user, tty, host, time, pid", "Users with an active login session."),
	schemaDoc("system_info", "hostname, uuid, cpu_type, cpu_brand, cpu_physical_cores, physical_memory, hardware_model", "Single row of host hardware information."),
	schemaDoc("os_version", "name, version, major, minor, patch, build, platform", "Single row describing the operating system."),
	schemaDoc("uptime", "days, hours, minutes, seconds, total_seconds", "Time since last boot."),
	schemaDoc("interface_addresses", "interface, address, mask, broadcast, type", "IP addresses bound to network interfaces."),
	schemaDoc("startup_items", "name, path, args, type, source, status, username", "Applications and services that run at startup."),
	schemaDoc("kernel_modules", "name, size, used_by, status, address", "Loaded Linux kernel modules."),
	schemaDoc("crontab", "event, minute, hour, day_of_month, month, day_of_week, command, path", "Scheduled cron jobs."),
	schemaDoc("file", "path, directory, filename, size, mtime, atime, ctime, uid, gid, mode", "File metadata. Requires a path or directory constraint."),
	schemaDoc("hash", "path, directory, md5, sha1, sha256", "File hashes. Requires a path or directory constraint."),
}
