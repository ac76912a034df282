package libbox

import (
	"os"
	"os/user"
	"runtime/debug"
	"strconv"
)

const version = "1.2.0"

var (
	sBasePath         string
	sWorkingPath      string
	sTempPath         string
	sUserID           int
	sGroupID          int
	sCommandServerTCP bool
)

func init() {
	debug.SetPanicOnFault(true)
}

type SetupOptions struct {
	BasePath    string
	WorkingPath string
	TempPath    string
	Username    string
	// CommandServerTCP listens on loopback TCP instead of a unix socket,
	// for hosts whose sandbox forbids socket files.
	CommandServerTCP bool
}

func Setup(options *SetupOptions) error {
	sBasePath = options.BasePath
	sWorkingPath = options.WorkingPath
	sTempPath = options.TempPath
	if options.Username != "" {
		sUser, err := user.Lookup(options.Username)
		if err != nil {
			return err
		}
		sUserID, _ = strconv.Atoi(sUser.Uid)
		sGroupID, _ = strconv.Atoi(sUser.Gid)
	} else {
		sUserID = os.Getuid()
		sGroupID = os.Getgid()
	}
	sCommandServerTCP = options.CommandServerTCP

	os.MkdirAll(sWorkingPath, 0o777)
	os.MkdirAll(sTempPath, 0o777)
	if options.Username != "" {
		os.Chown(sWorkingPath, sUserID, sGroupID)
		os.Chown(sTempPath, sUserID, sGroupID)
	}

	return nil
}

func Version() string {
	return version
}
