package version

import "fmt"

// Service: имя сервиса в логах, health-ответах и ресурсе трассировки.
const Service = "crm-orders"

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Info возвращает данные сборки, заданные через -ldflags.
func Info() (v, c, d string) { return version, commit, date }

// GetVersion возвращает версию сборки.
func GetVersion() string { return version }

// String форматирует данные сборки для логов и флага -version.
func String() string {
	return fmt.Sprintf("%s version=%s commit=%s date=%s", Service, version, commit, date)
}
