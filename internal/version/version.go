// 包 version：进程版本标识，写入日志与输出文件的溯源属性
package version

// Version：构建版本号；发布时由 -ldflags 注入覆盖
var Version = "dev"

// String：返回带产品前缀的版本串
func String() string {
	return "gz-mask/" + Version
}
