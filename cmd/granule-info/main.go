package main

import (
	"fmt"
	"os"

	"gz-mask/internal/granule"
)

// 文档注释：颗粒文件名检查工具
// 背景：排障时快速确认一个文件名能否被解析、落在哪个半球、会派生什么输出名，
// 不打开文件本体。

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: granule-info <ATL03 file name>...\n")
		os.Exit(2)
	}
	bad := false
	for _, name := range os.Args[1:] {
		tok, err := granule.Parse(name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
			bad = true
			continue
		}
		fmt.Printf("%s:\n", name)
		fmt.Printf("  product:  %s (release %s, version %s)\n", tok.Product, tok.Release, tok.Version)
		fmt.Printf("  acquired: %s-%s-%s %s:%s:%s\n", tok.Year, tok.Month, tok.Day, tok.Hour, tok.Minute, tok.Second)
		fmt.Printf("  orbit:    track %s cycle %s region %s\n", tok.Track, tok.Cycle, tok.Region)
		if region, err := granule.HemisphereRegion(tok.Region); err == nil {
			fmt.Printf("  boundary: hemisphere %s, %s\n", region.Hemisphere, region.Description)
		} else {
			fmt.Printf("  boundary: none (%v)\n", err)
		}
		fmt.Printf("  output:   %s\n", tok.MaskOutputName())
	}
	if bad {
		os.Exit(1)
	}
}
