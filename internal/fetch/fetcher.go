// Package fetch は外部の取得・変換ツールとの境界を定義します。
package fetch

import "context"

// Metadata はデータ転送を行わずに解決できる対象の情報です。
type Metadata struct {
	Title string
}

// Progress は取得処理からコールバックで報告される生の進捗です。
type Progress struct {
	Percent  int    // 0-100（不明な場合は0）
	Speed    string // 人間可読の転送速度（例: "1.2MB/s"）
	ETA      string // 残り時間 hh:mm:ss（不明な場合は空）
	Finished bool   // 転送フェーズが終了した最終報告
}

// Result は取得・変換の成果です。OutputPath は最終成果物の確定パスです。
type Result struct {
	OutputPath string
}

// Fetcher は1件の取得・変換を実行するコンポーネントが実装します。
// Probe はタイトル等のメタデータのみを解決し、Fetch が実際の転送と変換を行います。
type Fetcher interface {
	Probe(ctx context.Context, rawURL string) (*Metadata, error)
	Fetch(ctx context.Context, rawURL, destDir string, progress func(Progress)) (*Result, error)
}
