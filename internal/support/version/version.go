// Package version хранит имя и версию сборки. Version подменяется через
// -ldflags "-X delivery-userbot/internal/support/version.Version=...".
package version

// Name: имя приложения для консоли.
const Name = "delivery-userbot"

// Version: версия приложения, также уходит в DeviceConfig клиента.
var Version = "dev"
