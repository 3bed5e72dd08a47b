// Package petapi はペットIDサーバーのJSON APIクライアント
//
// 生体画像の登録、登録状況の取得、モデルの学習、照合、AI予測、
// 通知件数の取得を提供する。
//
// エラーは以下の3種類に分類される：
//   - TransportError: 接続失敗やタイムアウト
//   - ServerError: success=false またはエラーステータス（上限到達、低信頼度など）
//   - ParseError: JSONでないレスポンス
package petapi
