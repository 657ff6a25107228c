package config

import (
	"reflect"
	"sort"
)

// hotReloadable 可以在运行时生效的配置段，其余变更需要重启
var hotReloadable = map[string]bool{
	"risk": true,
}

// ConfigChange 单个配置段的变更
type ConfigChange struct {
	Section         string      `json:"section"`
	OldValue        interface{} `json:"old_value"`
	NewValue        interface{} `json:"new_value"`
	RequiresRestart bool        `json:"requires_restart"`
}

// ConfigDiff 配置差异
type ConfigDiff struct {
	Changes         []ConfigChange `json:"changes"`
	RequiresRestart bool           `json:"requires_restart"`
}

// Empty 是否没有任何变更
func (d *ConfigDiff) Empty() bool {
	return d == nil || len(d.Changes) == 0
}

// Sections 发生变更的配置段名称
func (d *ConfigDiff) Sections() []string {
	if d == nil {
		return nil
	}
	names := make([]string, 0, len(d.Changes))
	for _, c := range d.Changes {
		names = append(names, c.Section)
	}
	return names
}

// DiffConfig 按顶层配置段（yaml 名称）对比两个配置
func DiffConfig(oldConfig, newConfig *Config) *ConfigDiff {
	diff := &ConfigDiff{Changes: []ConfigChange{}}
	if oldConfig == nil || newConfig == nil {
		return diff
	}

	oldVal := reflect.ValueOf(oldConfig).Elem()
	newVal := reflect.ValueOf(newConfig).Elem()
	typ := oldVal.Type()

	for i := 0; i < typ.NumField(); i++ {
		section := typ.Field(i).Tag.Get("yaml")
		if section == "" || section == "-" {
			section = typ.Field(i).Name
		}
		o := oldVal.Field(i).Interface()
		n := newVal.Field(i).Interface()
		if reflect.DeepEqual(o, n) {
			continue
		}
		change := ConfigChange{
			Section:         section,
			OldValue:        o,
			NewValue:        n,
			RequiresRestart: !hotReloadable[section],
		}
		diff.Changes = append(diff.Changes, change)
		if change.RequiresRestart {
			diff.RequiresRestart = true
		}
	}

	sort.Slice(diff.Changes, func(i, j int) bool {
		return diff.Changes[i].Section < diff.Changes[j].Section
	})
	return diff
}
