// Package server は、キャプチャセッションを操作するHTTP APIを提供します。
//
// このパッケージは、ginによるルーティング、セッションイベントの
// Server-Sent Events配信、プレビューのMJPEG配信を担当します。
//
// 責務:
//   - HTTPサーバーの起動とグレースフルシャットダウン
//   - カメラの開始/停止とキャプチャ、自動キャプチャの制御
//   - キャプチャ済み画像のペットIDサーバーへの保存
//   - 照合と予測の要求の中継
//
// 仕様:
//   - カメラアクセスの失敗は分類ごとに 403/404/409/500 で応答する
//   - 自動キャプチャの枚数はサーバーの残り枠に合わせて減らす
//   - シャットダウン時にカメラの全トラックを停止する
package server
