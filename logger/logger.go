package logger

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LogLevel 日志级别
type LogLevel int

const (
	DEBUG LogLevel = iota // 调试信息（对账细节、重试细节）
	INFO                  // 一般信息（周期、下单、模式切换）
	WARN                  // 警告信息（闸门拒绝、数据降级）
	ERROR                 // 错误信息（交易所错误、对账失败）
	FATAL                 // 致命错误（程序无法继续）
)

var (
	globalLevel LogLevel = INFO
	mu          sync.RWMutex

	// 文件日志
	fileEnabled bool
	fileLogger  *log.Logger
	logFile     *os.File
	currentDate string
	fileMu      sync.Mutex
	logDir      = "logs"

	globalLocation *time.Location = time.Local
	locationMu     sync.RWMutex
)

// String 返回日志级别的字符串表示
func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel 解析日志级别字符串
func ParseLogLevel(level string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

// SetLevel 设置全局日志级别
func SetLevel(level LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	globalLevel = level
}

// GetLevel 获取全局日志级别
func GetLevel() LogLevel {
	mu.RLock()
	defer mu.RUnlock()
	return globalLevel
}

// SetLocation 设置日志时区（影响日志文件按日切分）
func SetLocation(loc *time.Location) {
	if loc == nil {
		return
	}
	locationMu.Lock()
	defer locationMu.Unlock()
	globalLocation = loc
}

// EnableFileLogging 启用按日期切分的文件日志，dir 为空时使用 logs/
func EnableFileLogging(dir string) {
	fileMu.Lock()
	defer fileMu.Unlock()
	if dir != "" {
		logDir = dir
	}
	fileEnabled = true
	rotateLocked()
}

// rotateLocked 日期变化时重新打开日志文件，调用前必须持有 fileMu
func rotateLocked() {
	locationMu.RLock()
	loc := globalLocation
	locationMu.RUnlock()

	today := time.Now().In(loc).Format("2006-01-02")
	if fileLogger != nil && currentDate == today {
		return
	}

	if logFile != nil {
		logFile.Close()
		logFile = nil
		fileLogger = nil
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		log.Printf("[WARN] 创建日志文件夹失败: %v，将只输出到控制台", err)
		return
	}

	logFileName := filepath.Join(logDir, fmt.Sprintf("podmesh-%s.log", today))
	file, err := os.OpenFile(logFileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Printf("[WARN] 打开日志文件失败: %v，将只输出到控制台", err)
		return
	}

	logFile = file
	currentDate = today
	fileLogger = log.New(file, "", 0)
}

// Close 关闭文件日志（程序退出时调用）
func Close() {
	fileMu.Lock()
	defer fileMu.Unlock()
	fileEnabled = false
	if logFile != nil {
		logFile.Close()
		logFile = nil
		fileLogger = nil
		currentDate = ""
	}
}

func shouldLog(level LogLevel) bool {
	return level >= GetLevel()
}

func writeFile(message string) {
	fileMu.Lock()
	defer fileMu.Unlock()
	if !fileEnabled {
		return
	}
	rotateLocked()
	if fileLogger == nil {
		return
	}
	locationMu.RLock()
	loc := globalLocation
	locationMu.RUnlock()
	fileLogger.Printf("%s %s", time.Now().In(loc).Format("2006/01/02 15:04:05"), message)
}

func logf(level LogLevel, format string, args ...interface{}) {
	if !shouldLog(level) {
		return
	}
	message := fmt.Sprintf("[%s] "+format, append([]interface{}{level.String()}, args...)...)
	log.Print(message)
	writeFile(message)
}

func logln(level LogLevel, args ...interface{}) {
	if !shouldLog(level) {
		return
	}
	message := strings.TrimSuffix(fmt.Sprintln(append([]interface{}{"[" + level.String() + "]"}, args...)...), "\n")
	log.Print(message)
	writeFile(message)
}

// Debug 输出调试日志
func Debug(format string, args ...interface{}) {
	logf(DEBUG, format, args...)
}

// Debugln 输出调试日志（无格式）
func Debugln(args ...interface{}) {
	logln(DEBUG, args...)
}

// Info 输出一般信息日志
func Info(format string, args ...interface{}) {
	logf(INFO, format, args...)
}

// Warn 输出警告日志
func Warn(format string, args ...interface{}) {
	logf(WARN, format, args...)
}

// Error 输出错误日志
func Error(format string, args ...interface{}) {
	logf(ERROR, format, args...)
}

// Fatalf 输出致命错误日志并退出程序
func Fatalf(format string, args ...interface{}) {
	logf(FATAL, format, args...)
	Close()
	os.Exit(1)
}
