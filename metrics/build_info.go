package metrics

import (
	"cmp"
	"runtime/debug"

	"github.com/prometheus/client_golang/prometheus"
)

// RegisterBuildInfo 以常量 1 暴露服务名、配置版本与模块版本，重复调用只保留第一次的标签.
func (m *Metrics) RegisterBuildInfo(service, configVersion string) {
	if m == nil || m.BuildInfo != nil {
		return
	}
	module := "devel"
	if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" {
		module = bi.Main.Version
	}

	m.BuildInfo = m.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Service, config version and module version of the running pricing engine",
	}, []string{"service", "config_version", "module_version"})
	m.BuildInfo.WithLabelValues(cmp.Or(service, "unknown"), cmp.Or(configVersion, "unknown"), module).Set(1)
}
