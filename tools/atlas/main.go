// 輸出帳本資料表的 DDL，供 atlas 的 external_schema 使用：
//
//	data "external_schema" "gorm" {
//	  program = ["go", "run", "./tools/atlas", "-dialect", "postgres"]
//	}
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"ariga.io/atlas-provider-gorm/gormschema"

	"rauction/models"
)

var dialects = []string{"postgres", "sqlite"}

func errExit(format string, args ...interface{}) {
	if !strings.HasSuffix(format, "\n") {
		format = format + "\n"
	}
	_, _ = fmt.Fprintf(os.Stderr, format, args...)
	os.Exit(1)
}

func main() {
	dialect := flag.String("dialect", "postgres", strings.Join(dialects, " or "))
	flag.Parse()

	stmts, err := gormschema.New(*dialect).Load(models.All()...)
	if err != nil {
		errExit("error loading gorm schema for %s: %s", *dialect, err)
	}
	if _, err := io.WriteString(os.Stdout, stmts); err != nil {
		errExit("error writing schema: %s", err)
	}
}
