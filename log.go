package libbox

import (
	"os"
	"runtime"
	"sync"

	"github.com/sagernet/sing/common"
	F "github.com/sagernet/sing/common/format"
	"github.com/sagernet/sing/common/logger"
	appLog "github.com/v2fly/v2ray-core/v5/app/log"
	"github.com/v2fly/v2ray-core/v5/common/log"
	"golang.org/x/sys/unix"
)

func init() {
	log.RegisterHandler((*stubLogger)(nil))
}

type logWriter interface {
	WriteLog(message string)
}

var (
	logAccess   sync.Mutex
	logServer   *CommandServer
	logPlatform logWriter
)

// logHandler fans records out to the command server and the host, whichever
// are attached.
type logHandler struct {
	server   *CommandServer
	platform logWriter
}

func (h *logHandler) Handle(msg log.Message) {
	content := msg.String()
	if h.server != nil {
		h.server.WriteMessage(content)
	}
	if h.platform != nil {
		h.platform.WriteLog(content)
	}
}

func currentLogHandler() log.Handler {
	if logServer == nil && logPlatform == nil {
		return (*stubLogger)(nil)
	}
	return &logHandler{server: logServer, platform: logPlatform}
}

func updateLogTarget(update func()) {
	logAccess.Lock()
	defer logAccess.Unlock()
	update()
	handler := currentLogHandler()
	log.RegisterHandler(handler)
	common.Must(appLog.RegisterHandlerCreator(appLog.LogType_Console, func(lt appLog.LogType, options appLog.HandlerCreatorOptions) (log.Handler, error) {
		return handler, nil
	}))
}

type stubLogger struct{}

func (l *stubLogger) Handle(msg log.Message) {
}

var _ logger.Logger = (*recordLogger)(nil)

// recordLogger forwards to whichever handler is registered on the v2ray log bus.
type recordLogger struct{}

func newLogger() logger.Logger {
	return (*recordLogger)(nil)
}

func record(severity log.Severity, args ...any) {
	log.Record(&log.GeneralMessage{
		Severity: severity,
		Content:  F.ToString(args...),
	})
}

func (l *recordLogger) Trace(args ...any) {
	record(log.Severity_Debug, args...)
}

func (l *recordLogger) Debug(args ...any) {
	record(log.Severity_Debug, args...)
}

func (l *recordLogger) Info(args ...any) {
	record(log.Severity_Info, args...)
}

func (l *recordLogger) Warn(args ...any) {
	record(log.Severity_Warning, args...)
}

func (l *recordLogger) Error(args ...any) {
	record(log.Severity_Error, args...)
}

func (l *recordLogger) Fatal(args ...any) {
	record(log.Severity_Error, args...)
}

func (l *recordLogger) Panic(args ...any) {
	record(log.Severity_Error, args...)
}

var stderrFile *os.File

func RedirectStderr(path string) error {
	if stats, err := os.Stat(path); err == nil && stats.Size() > 0 {
		_ = os.Rename(path, path+".old")
	}
	outputFile, err := os.Create(path)
	if err != nil {
		return err
	}
	if runtime.GOOS != "android" {
		err = outputFile.Chown(sUserID, sGroupID)
		if err != nil {
			outputFile.Close()
			os.Remove(outputFile.Name())
			return err
		}
	}
	err = unix.Dup2(int(outputFile.Fd()), int(os.Stderr.Fd()))
	if err != nil {
		outputFile.Close()
		os.Remove(outputFile.Name())
		return err
	}
	stderrFile = outputFile
	return nil
}
