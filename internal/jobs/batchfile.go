package jobs

import (
	"encoding/csv"
	"io"
	"strings"
)

// parseLocatorFile はアップロードされた区切りファイルからURL一覧を読み取ります。
// 各行の1列目をURL候補として扱い、URLに見えない先頭行はヘッダーとしてスキップします。
func parseLocatorFile(r io.Reader) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, newError(CodeInvalidInput, "ファイルの読み込みに失敗しました。", err)
	}

	urls := make([]string, 0, len(rows))
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		candidate := strings.TrimSpace(row[0])
		if candidate == "" {
			continue
		}
		if !isLocator(candidate) {
			// 先頭行のみヘッダー行として許容する
			if i == 0 {
				continue
			}
			return nil, newError(CodeInvalidInput, "URLの形式が正しくありません: "+candidate, nil)
		}
		urls = append(urls, candidate)
	}

	return urls, nil
}

func isLocator(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
