package jobs

import (
	"archive/zip"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// ArchiveEntry はアーカイブへ格納する1ファイルを表します。
// Name はディレクトリを含まないベース名です。
type ArchiveEntry struct {
	SourcePath string
	Name       string
}

// buildArchive は entries を1つのzipへまとめます。
// 存在しない入力ファイルは警告ログの上でスキップし、
// 1件も格納できなかった場合は NO_INPUT_FILES エラーを返してファイルを残しません。
func buildArchive(outputPath string, entries []ArchiveEntry, logger *log.Logger) (err error) {
	outFile, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return newError(CodeAssemblyFailed, "zipファイルの作成に失敗しました。", err)
	}

	defer func() {
		if err != nil {
			_ = os.Remove(outputPath)
		}
	}()

	zipWriter := zip.NewWriter(outFile)
	usedNames := make(map[string]int)
	written := 0

	for _, entry := range entries {
		file, openErr := os.Open(entry.SourcePath)
		if openErr != nil {
			if logger != nil {
				logger.Printf("skipping missing archive input: %s (%v)", entry.SourcePath, openErr)
			}
			continue
		}

		info, statErr := file.Stat()
		if statErr != nil {
			file.Close()
			zipWriter.Close()
			outFile.Close()
			return newError(CodeAssemblyFailed, "zip入力ファイルの情報取得に失敗しました。", statErr)
		}

		header, headerErr := zip.FileInfoHeader(info)
		if headerErr != nil {
			file.Close()
			zipWriter.Close()
			outFile.Close()
			return newError(CodeAssemblyFailed, "zipヘッダーの生成に失敗しました。", headerErr)
		}
		header.Name = uniqueEntryName(entry.Name, usedNames)
		header.Method = zip.Deflate

		writer, createErr := zipWriter.CreateHeader(header)
		if createErr != nil {
			file.Close()
			zipWriter.Close()
			outFile.Close()
			return newError(CodeAssemblyFailed, "zipヘッダーの書き込みに失敗しました。", createErr)
		}

		if _, copyErr := io.Copy(writer, file); copyErr != nil {
			file.Close()
			zipWriter.Close()
			outFile.Close()
			return newError(CodeAssemblyFailed, "zipへの書き込みに失敗しました。", copyErr)
		}
		file.Close()
		written++
	}

	if closeErr := zipWriter.Close(); closeErr != nil {
		outFile.Close()
		return newError(CodeAssemblyFailed, "zipファイルのクローズに失敗しました。", closeErr)
	}
	if closeErr := outFile.Close(); closeErr != nil {
		return newError(CodeAssemblyFailed, "zipファイルのクローズに失敗しました。", closeErr)
	}

	if written == 0 {
		return newError(CodeNoInputFiles, "アーカイブ対象のファイルがありません。", nil)
	}

	return nil
}

// uniqueEntryName は重複するエントリ名を "name (2).ext" の形式で一意化します。
func uniqueEntryName(name string, used map[string]int) string {
	base := filepath.Base(name)
	if _, exists := used[base]; !exists {
		used[base] = 1
		return base
	}

	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	for {
		used[base]++
		candidate := fmt.Sprintf("%s (%d)%s", stem, used[base], ext)
		if _, exists := used[candidate]; !exists {
			used[candidate] = 1
			return candidate
		}
	}
}

// completedEntries は完了ジョブの成果物をアーカイブ入力へ変換します。
func completedEntries(records []*Record) []ArchiveEntry {
	entries := make([]ArchiveEntry, 0, len(records))
	for _, record := range records {
		if record.Status != StatusCompleted || record.Filepath == "" {
			continue
		}
		name := record.Filename
		if name == "" {
			name = filepath.Base(record.Filepath)
		}
		entries = append(entries, ArchiveEntry{
			SourcePath: record.Filepath,
			Name:       name,
		})
	}
	return entries
}
