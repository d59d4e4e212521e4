package app

import (
	"github.com/kart-io/version"
	"github.com/spf13/pflag"
)

// GetVersion 返回构建时注入的 git 版本，用于日志初始字段与 tracing 资源属性。
func GetVersion() string {
	return version.Get().GitVersion
}

func addVersionFlags(fs *pflag.FlagSet) {
	version.AddFlags(fs)
}

// printVersionIfRequested 指定了 --version 时打印版本并退出进程。
func printVersionIfRequested() {
	version.PrintAndExitIfRequested()
}
